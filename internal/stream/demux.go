package stream

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/buger/jsonparser"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"schwabstream/pkg/schwab"
)

// Frame is the decoded content of one inbound text frame, in arrival order.
type Frame struct {
	Responses []schwab.Response // command acknowledgments, LOGIN included
	Notices   []schwab.Response // notify entries carrying a code, e.g. forced disconnects
	Messages  []StreamerMessage
	Heartbeat bool
}

// Demuxer turns raw frames into typed messages.
type Demuxer struct {
	logger *zap.Logger
}

func NewDemuxer(logger *zap.Logger) *Demuxer {
	return &Demuxer{logger: logger.Named("demux")}
}

// Decode parses one frame. Only a frame that is not a JSON object fails;
// unknown services and malformed entries are dropped with a warning.
func (d *Demuxer) Decode(frame []byte) (Frame, error) {
	trimmed := bytes.TrimSpace(frame)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Frame{}, &DecodeError{Frame: excerpt(frame), Err: errors.New("not a json object")}
	}

	var out Frame
	err := jsonparser.ObjectEach(trimmed, func(key, value []byte, dataType jsonparser.ValueType, _ int) error {
		if dataType != jsonparser.Array {
			return nil
		}
		switch string(key) {
		case "response":
			out.Responses = append(out.Responses, d.responses(value)...)
		case "notify":
			notices, heartbeat := d.notifications(value)
			out.Notices = append(out.Notices, notices...)
			out.Heartbeat = out.Heartbeat || heartbeat
		case "data", "snapshot":
			out.Messages = append(out.Messages, d.data(value)...)
		}
		return nil
	})
	if err != nil {
		return Frame{}, &DecodeError{Frame: excerpt(frame), Err: err}
	}
	return out, nil
}

func (d *Demuxer) responses(arr []byte) []schwab.Response {
	var out []schwab.Response
	_, _ = jsonparser.ArrayEach(arr, func(entry []byte, dataType jsonparser.ValueType, _ int, _ error) {
		if dataType != jsonparser.Object {
			return
		}
		resp := schwab.Response{}
		svc, _ := jsonparser.GetString(entry, "service")
		cmd, _ := jsonparser.GetString(entry, "command")
		resp.Service, resp.Command = schwab.Service(svc), schwab.Command(cmd)
		resp.RequestID, _ = jsonparser.GetString(entry, "requestid")
		code, err := jsonparser.GetInt(entry, "content", "code")
		if err != nil {
			d.logger.Warn("response without code", zap.ByteString("entry", entry))
			return
		}
		resp.Code = int(code)
		resp.Msg, _ = jsonparser.GetString(entry, "content", "msg")
		out = append(out, resp)
	})
	return out
}

func (d *Demuxer) notifications(arr []byte) ([]schwab.Response, bool) {
	var notices []schwab.Response
	heartbeat := false
	_, _ = jsonparser.ArrayEach(arr, func(entry []byte, dataType jsonparser.ValueType, _ int, _ error) {
		if dataType != jsonparser.Object {
			return
		}
		if _, _, _, err := jsonparser.Get(entry, "heartbeat"); err == nil {
			heartbeat = true
			return
		}
		code, err := jsonparser.GetInt(entry, "content", "code")
		if err != nil {
			return
		}
		svc, _ := jsonparser.GetString(entry, "service")
		msg, _ := jsonparser.GetString(entry, "content", "msg")
		notices = append(notices, schwab.Response{Service: schwab.Service(svc), Code: int(code), Msg: msg})
	})
	return notices, heartbeat
}

func (d *Demuxer) data(arr []byte) []StreamerMessage {
	var out []StreamerMessage
	_, _ = jsonparser.ArrayEach(arr, func(entry []byte, dataType jsonparser.ValueType, _ int, _ error) {
		if dataType != jsonparser.Object {
			d.logger.Warn("dropping non-object data entry")
			return
		}
		svc, err := jsonparser.GetString(entry, "service")
		if err != nil {
			d.logger.Warn("dropping data entry without service", zap.Error(err))
			return
		}
		service := schwab.Service(svc)
		if !service.IsMarketData() {
			d.logger.Warn("dropping data for unsupported service", zap.String("service", svc))
			return
		}

		var ts time.Time
		if ms, err := jsonparser.GetInt(entry, "timestamp"); err == nil {
			ts = time.UnixMilli(ms)
		}

		content, contentType, _, err := jsonparser.Get(entry, "content")
		if err != nil || contentType != jsonparser.Array {
			d.logger.Warn("dropping data entry without content", zap.String("service", svc))
			return
		}

		_, _ = jsonparser.ArrayEach(content, func(item []byte, itemType jsonparser.ValueType, _ int, _ error) {
			msg, err := decodeContent(service, ts, item, itemType)
			if err != nil {
				d.logger.Warn("dropping malformed content",
					zap.String("service", svc),
					zap.ByteString("content", item),
					zap.Error(err),
				)
				return
			}
			out = append(out, msg)
		})
	})
	return out
}

// fielded is a message whose numbered fields can be addressed by id.
type fielded interface {
	StreamerMessage
	field(id int) any
}

func decodeContent(service schwab.Service, ts time.Time, item []byte, itemType jsonparser.ValueType) (StreamerMessage, error) {
	if itemType != jsonparser.Object {
		return nil, fmt.Errorf("content is %s, want object", itemType)
	}

	var (
		msg    fielded
		symbol *string
		common = map[string]any{}
	)
	switch service {
	case schwab.ServiceLevelOneEquities:
		m := &LevelOneEquity{Timestamp: ts}
		msg, symbol = m, &m.Symbol
		common["delayed"] = &m.Delayed
		common["assetMainType"] = &m.AssetMainType
		common["assetSubType"] = &m.AssetSubType
		common["cusip"] = &m.Cusip
	case schwab.ServiceLevelOneOptions:
		m := &LevelOneOption{Timestamp: ts}
		msg, symbol = m, &m.Symbol
		common["delayed"] = &m.Delayed
	case schwab.ServiceLevelOneFutures:
		m := &LevelOneFuture{Timestamp: ts}
		msg, symbol = m, &m.Symbol
		common["delayed"] = &m.Delayed
	default:
		return nil, fmt.Errorf("unsupported service %s", service)
	}

	err := jsonparser.ObjectEach(item, func(key, value []byte, dataType jsonparser.ValueType, _ int) error {
		name := string(key)
		if name == "key" {
			s, err := jsonparser.ParseString(value)
			if err != nil {
				return fmt.Errorf("key: %w", err)
			}
			*symbol = s
			return nil
		}
		if dst, ok := common[name]; ok {
			return assign(dst, value, dataType)
		}
		id, err := strconv.Atoi(name)
		if err != nil {
			return nil // unknown named member
		}
		dst := msg.field(id)
		if dst == nil {
			return nil // field id newer than this decoder
		}
		if err := assign(dst, value, dataType); err != nil {
			return fmt.Errorf("field %d: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if *symbol == "" {
		return nil, errors.New("content has no key")
	}
	return msg, nil
}

// assign stores a JSON scalar into one of the optional field kinds. null leaves
// the field absent.
func assign(dst any, value []byte, dataType jsonparser.ValueType) error {
	if dataType == jsonparser.Null {
		return nil
	}

	switch p := dst.(type) {
	case *decimal.NullDecimal:
		if dataType != jsonparser.Number && dataType != jsonparser.String {
			return fmt.Errorf("want number, got %s", dataType)
		}
		dec, err := decimal.NewFromString(string(value))
		if err != nil {
			return err
		}
		*p = decimal.NewNullDecimal(dec)

	case **int64:
		n, err := parseInt(value, dataType)
		if err != nil {
			return err
		}
		*p = &n

	case **time.Time:
		ms, err := parseInt(value, dataType)
		if err != nil {
			return err
		}
		t := time.UnixMilli(ms)
		*p = &t

	case **string:
		var s string
		switch dataType {
		case jsonparser.String:
			var err error
			if s, err = jsonparser.ParseString(value); err != nil {
				return err
			}
		case jsonparser.Number, jsonparser.Boolean:
			s = string(value)
		default:
			return fmt.Errorf("want string, got %s", dataType)
		}
		*p = &s

	case **bool:
		if dataType != jsonparser.Boolean {
			return fmt.Errorf("want boolean, got %s", dataType)
		}
		b, err := jsonparser.ParseBoolean(value)
		if err != nil {
			return err
		}
		*p = &b

	default:
		return fmt.Errorf("unsupported destination %T", dst)
	}
	return nil
}

func parseInt(value []byte, dataType jsonparser.ValueType) (int64, error) {
	if dataType != jsonparser.Number {
		return 0, fmt.Errorf("want number, got %s", dataType)
	}
	if n, err := jsonparser.ParseInt(value); err == nil {
		return n, nil
	}
	f, err := jsonparser.ParseFloat(value)
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}
