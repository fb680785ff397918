// Package scribe implements the client side of the Scribe log collector
// Thrift service:
//
//	enum ResultCode { OK, TRY_LATER }
//	struct LogEntry { 1: string category, 2: string message }
//	service scribe { ResultCode Log(1: list<LogEntry> messages) }
package scribe

import (
	"context"
	"fmt"

	"github.com/apache/thrift/lib/go/thrift"
)

// ResultCode is the collector's answer to a Log call.
type ResultCode int32

const (
	ResultCodeOK       ResultCode = 0
	ResultCodeTryLater ResultCode = 1
)

func (c ResultCode) String() string {
	switch c {
	case ResultCodeOK:
		return "OK"
	case ResultCodeTryLater:
		return "TRY_LATER"
	}
	return fmt.Sprintf("ResultCode(%d)", int32(c))
}

// LogEntry is one message for a category.
type LogEntry struct {
	Category string
	Message  string
}

func (p *LogEntry) Write(ctx context.Context, oprot thrift.TProtocol) error {
	if err := oprot.WriteStructBegin(ctx, "LogEntry"); err != nil {
		return thrift.PrependError(fmt.Sprintf("%T write struct begin error: ", p), err)
	}
	if err := writeStringField(ctx, oprot, "category", 1, p.Category); err != nil {
		return err
	}
	if err := writeStringField(ctx, oprot, "message", 2, p.Message); err != nil {
		return err
	}
	if err := oprot.WriteFieldStop(ctx); err != nil {
		return thrift.PrependError("write field stop error: ", err)
	}
	if err := oprot.WriteStructEnd(ctx); err != nil {
		return thrift.PrependError("write struct stop error: ", err)
	}
	return nil
}

func (p *LogEntry) Read(ctx context.Context, iprot thrift.TProtocol) error {
	if _, err := iprot.ReadStructBegin(ctx); err != nil {
		return thrift.PrependError(fmt.Sprintf("%T read error: ", p), err)
	}
	for {
		_, fieldType, fieldID, err := iprot.ReadFieldBegin(ctx)
		if err != nil {
			return thrift.PrependError(fmt.Sprintf("%T field %d read error: ", p, fieldID), err)
		}
		if fieldType == thrift.STOP {
			break
		}
		switch {
		case fieldID == 1 && fieldType == thrift.STRING:
			if p.Category, err = iprot.ReadString(ctx); err != nil {
				return thrift.PrependError("error reading field 1: ", err)
			}
		case fieldID == 2 && fieldType == thrift.STRING:
			if p.Message, err = iprot.ReadString(ctx); err != nil {
				return thrift.PrependError("error reading field 2: ", err)
			}
		default:
			if err := iprot.Skip(ctx, fieldType); err != nil {
				return err
			}
		}
		if err := iprot.ReadFieldEnd(ctx); err != nil {
			return err
		}
	}
	if err := iprot.ReadStructEnd(ctx); err != nil {
		return thrift.PrependError(fmt.Sprintf("%T read struct end error: ", p), err)
	}
	return nil
}

func (p *LogEntry) String() string {
	if p == nil {
		return "<nil>"
	}
	return fmt.Sprintf("LogEntry(%+v)", *p)
}

func writeStringField(ctx context.Context, oprot thrift.TProtocol, name string, id int16, v string) error {
	if err := oprot.WriteFieldBegin(ctx, name, thrift.STRING, id); err != nil {
		return thrift.PrependError(fmt.Sprintf("write field begin error %d:%s: ", id, name), err)
	}
	if err := oprot.WriteString(ctx, v); err != nil {
		return thrift.PrependError(fmt.Sprintf("field %d (%s) write error: ", id, name), err)
	}
	if err := oprot.WriteFieldEnd(ctx); err != nil {
		return thrift.PrependError(fmt.Sprintf("write field end error %d:%s: ", id, name), err)
	}
	return nil
}

// LogArgs are the arguments of the Log call.
type LogArgs struct {
	Messages []*LogEntry
}

func (p *LogArgs) Write(ctx context.Context, oprot thrift.TProtocol) error {
	if err := oprot.WriteStructBegin(ctx, "Log_args"); err != nil {
		return thrift.PrependError(fmt.Sprintf("%T write struct begin error: ", p), err)
	}
	if err := oprot.WriteFieldBegin(ctx, "messages", thrift.LIST, 1); err != nil {
		return thrift.PrependError("write field begin error 1:messages: ", err)
	}
	if err := oprot.WriteListBegin(ctx, thrift.STRUCT, len(p.Messages)); err != nil {
		return thrift.PrependError("error writing list begin: ", err)
	}
	for _, m := range p.Messages {
		if err := m.Write(ctx, oprot); err != nil {
			return thrift.PrependError(fmt.Sprintf("%T error writing struct: ", m), err)
		}
	}
	if err := oprot.WriteListEnd(ctx); err != nil {
		return thrift.PrependError("error writing list end: ", err)
	}
	if err := oprot.WriteFieldEnd(ctx); err != nil {
		return thrift.PrependError("write field end error 1:messages: ", err)
	}
	if err := oprot.WriteFieldStop(ctx); err != nil {
		return thrift.PrependError("write field stop error: ", err)
	}
	return oprot.WriteStructEnd(ctx)
}

func (p *LogArgs) Read(ctx context.Context, iprot thrift.TProtocol) error {
	if _, err := iprot.ReadStructBegin(ctx); err != nil {
		return thrift.PrependError(fmt.Sprintf("%T read error: ", p), err)
	}
	for {
		_, fieldType, fieldID, err := iprot.ReadFieldBegin(ctx)
		if err != nil {
			return thrift.PrependError(fmt.Sprintf("%T field %d read error: ", p, fieldID), err)
		}
		if fieldType == thrift.STOP {
			break
		}
		if fieldID == 1 && fieldType == thrift.LIST {
			_, size, err := iprot.ReadListBegin(ctx)
			if err != nil {
				return thrift.PrependError("error reading list begin: ", err)
			}
			p.Messages = make([]*LogEntry, 0, size)
			for i := 0; i < size; i++ {
				e := &LogEntry{}
				if err := e.Read(ctx, iprot); err != nil {
					return thrift.PrependError(fmt.Sprintf("%T error reading struct: ", e), err)
				}
				p.Messages = append(p.Messages, e)
			}
			if err := iprot.ReadListEnd(ctx); err != nil {
				return thrift.PrependError("error reading list end: ", err)
			}
		} else if err := iprot.Skip(ctx, fieldType); err != nil {
			return err
		}
		if err := iprot.ReadFieldEnd(ctx); err != nil {
			return err
		}
	}
	return iprot.ReadStructEnd(ctx)
}

// LogResult is the reply of the Log call.
type LogResult struct {
	Success *ResultCode
}

func (p *LogResult) Write(ctx context.Context, oprot thrift.TProtocol) error {
	if err := oprot.WriteStructBegin(ctx, "Log_result"); err != nil {
		return thrift.PrependError(fmt.Sprintf("%T write struct begin error: ", p), err)
	}
	if p.Success != nil {
		if err := oprot.WriteFieldBegin(ctx, "success", thrift.I32, 0); err != nil {
			return thrift.PrependError("write field begin error 0:success: ", err)
		}
		if err := oprot.WriteI32(ctx, int32(*p.Success)); err != nil {
			return thrift.PrependError("field 0 (success) write error: ", err)
		}
		if err := oprot.WriteFieldEnd(ctx); err != nil {
			return thrift.PrependError("write field end error 0:success: ", err)
		}
	}
	if err := oprot.WriteFieldStop(ctx); err != nil {
		return thrift.PrependError("write field stop error: ", err)
	}
	return oprot.WriteStructEnd(ctx)
}

func (p *LogResult) Read(ctx context.Context, iprot thrift.TProtocol) error {
	if _, err := iprot.ReadStructBegin(ctx); err != nil {
		return thrift.PrependError(fmt.Sprintf("%T read error: ", p), err)
	}
	for {
		_, fieldType, fieldID, err := iprot.ReadFieldBegin(ctx)
		if err != nil {
			return thrift.PrependError(fmt.Sprintf("%T field %d read error: ", p, fieldID), err)
		}
		if fieldType == thrift.STOP {
			break
		}
		if fieldID == 0 && fieldType == thrift.I32 {
			v, err := iprot.ReadI32(ctx)
			if err != nil {
				return thrift.PrependError("error reading field 0: ", err)
			}
			code := ResultCode(v)
			p.Success = &code
		} else if err := iprot.Skip(ctx, fieldType); err != nil {
			return err
		}
		if err := iprot.ReadFieldEnd(ctx); err != nil {
			return err
		}
	}
	return iprot.ReadStructEnd(ctx)
}
