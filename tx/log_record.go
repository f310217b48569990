package tx

import (
	"fmt"

	"pagepool/file"
	"pagepool/log"
)

// LogRecordType is the operation recorded by a transaction log record.
type LogRecordType int

const (
	Start LogRecordType = iota + 1
	Commit
	Update
)

func (t LogRecordType) String() string {
	switch t {
	case Start:
		return "START"
	case Commit:
		return "COMMIT"
	case Update:
		return "UPDATE"
	default:
		return "UNKNOWN"
	}
}

// LogRecord is a transaction log record: an operation code and the txn number, followed for
// UPDATE records by the block and offset that were changed. Values are not logged.
type LogRecord struct {
	Op     LogRecordType
	TxNum  int
	Block  file.BlockId
	Offset int
}

func (r LogRecord) String() string {
	if r.Op == Update {
		return fmt.Sprintf("<%s %d %s %d>", r.Op, r.TxNum, r.Block, r.Offset)
	}
	return fmt.Sprintf("<%s %d>", r.Op, r.TxNum)
}

// Bytes encodes the record. START and COMMIT are two ints; UPDATE appends the file name, block
// number and offset.
func (r LogRecord) Bytes() []byte {
	size := 2 * file.IntBytes
	if r.Op == Update {
		size += file.IntBytes + len(r.Block.Filename()) + 2*file.IntBytes
	}
	p := file.NewPage(size)
	p.SetInt(0, int(r.Op))
	p.SetInt(file.IntBytes, r.TxNum)
	if r.Op == Update {
		pos := 2 * file.IntBytes
		p.SetBytes(pos, []byte(r.Block.Filename()))
		pos += file.IntBytes + len(r.Block.Filename())
		p.SetInt(pos, r.Block.Number())
		p.SetInt(pos+file.IntBytes, r.Offset)
	}
	return p.Contents()
}

// ParseLogRecord decodes a record produced by Bytes.
func ParseLogRecord(b []byte) (LogRecord, error) {
	if len(b) < 2*file.IntBytes {
		return LogRecord{}, fmt.Errorf("log record too short: %d bytes", len(b))
	}
	p := file.NewPageFromBytes(b)
	r := LogRecord{Op: LogRecordType(p.GetInt(0)), TxNum: p.GetInt(file.IntBytes)}
	switch r.Op {
	case Start, Commit:
		return r, nil
	case Update:
	default:
		return LogRecord{}, fmt.Errorf("unknown log record type %d", r.Op)
	}

	pos := 2 * file.IntBytes
	if len(b) < pos+file.IntBytes {
		return LogRecord{}, fmt.Errorf("truncated %s record: %d bytes", r.Op, len(b))
	}
	nameLen := p.GetInt(pos)
	if nameLen < 0 || len(b) < pos+file.IntBytes+nameLen+2*file.IntBytes {
		return LogRecord{}, fmt.Errorf("truncated %s record: %d bytes", r.Op, len(b))
	}
	filename, err := p.GetString(pos)
	if err != nil {
		return LogRecord{}, fmt.Errorf("bad file name in %s record: %w", r.Op, err)
	}
	pos += file.IntBytes + nameLen
	r.Block = file.NewBlockId(filename, p.GetInt(pos))
	r.Offset = p.GetInt(pos + file.IntBytes)
	return r, nil
}

// writeToLog appends a START or COMMIT record and returns its LSN.
func writeToLog(logManager *log.Manager, op LogRecordType, txNum int) (int, error) {
	return appendRecord(logManager, LogRecord{Op: op, TxNum: txNum})
}

// logUpdate appends an UPDATE record for a change at offset of block and returns its LSN.
func logUpdate(logManager *log.Manager, txNum int, block file.BlockId, offset int) (int, error) {
	return appendRecord(logManager, LogRecord{Op: Update, TxNum: txNum, Block: block, Offset: offset})
}

func appendRecord(logManager *log.Manager, r LogRecord) (int, error) {
	lsn, err := logManager.Append(r.Bytes())
	if err != nil {
		return 0, fmt.Errorf("failed to write %s record for txn %d: %w", r.Op, r.TxNum, err)
	}
	return lsn, nil
}
