// Package wire implements the line-oriented record encoding used by ADMS-style
// attendance terminals: command issuance lines in poll responses and
// ampersand-separated key=value reply records in submission bodies.
package wire

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// CommandLine is one command to deliver in a poll response body.
type CommandLine struct {
	ID      uint64
	Type    string
	Payload string
}

// ReplyRecord is one decoded reply line from a device.
type ReplyRecord struct {
	ID     uint64
	CMD    string
	Return *int
	Extra  map[string]string
}

// MalformedRecordError describes a single reply line that failed to parse.
// It never aborts decoding of the remaining lines.
type MalformedRecordError struct {
	Line   int
	Reason string
	Raw    string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("wire: malformed record at line %d: %s", e.Line, e.Reason)
}

// EncodeCommands renders command lines for a poll response body. Each line is
// "ID={id}\tCMD={type}" with the payload appended after a space when present,
// lines separated and terminated by LF. An empty slice encodes to an empty
// body, which is how "no pending commands" is expressed on the wire.
func EncodeCommands(cmds []CommandLine) []byte {
	if len(cmds) == 0 {
		return nil
	}
	var buf bytes.Buffer
	for _, cmd := range cmds {
		buf.WriteString("ID=")
		buf.WriteString(strconv.FormatUint(cmd.ID, 10))
		buf.WriteString("\tCMD=")
		buf.WriteString(cmd.Type)
		if cmd.Payload != "" {
			buf.WriteByte(' ')
			buf.WriteString(cmd.Payload)
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// DecodeReplies parses a reply submission body into records. Blank lines are
// skipped. A line missing ID or CMD, or with a non-numeric ID or Return,
// contributes a *MalformedRecordError to the returned error slice; remaining
// lines are still decoded. Field values are passed through unescaped, and
// fields beyond the ID/Return/CMD envelope are preserved in Extra.
func DecodeReplies(body []byte) ([]ReplyRecord, []error) {
	var (
		records []ReplyRecord
		errs    []error
	)
	lines := strings.Split(string(body), "\n")
	for i, line := range lines {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		record, err := decodeLine(i+1, line)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		records = append(records, record)
	}
	return records, errs
}

func decodeLine(lineNo int, line string) (ReplyRecord, error) {
	record := ReplyRecord{}
	var (
		sawID  bool
		sawCMD bool
	)
	for _, field := range strings.Split(line, "&") {
		key, value, found := strings.Cut(field, "=")
		if !found {
			// Bare tokens are tolerated the same way unknown keys are.
			continue
		}
		switch key {
		case "ID":
			id, err := strconv.ParseUint(value, 10, 64)
			if err != nil {
				return ReplyRecord{}, &MalformedRecordError{Line: lineNo, Reason: "non-numeric ID", Raw: line}
			}
			record.ID = id
			sawID = true
		case "Return":
			code, err := strconv.Atoi(value)
			if err != nil {
				return ReplyRecord{}, &MalformedRecordError{Line: lineNo, Reason: "non-numeric Return", Raw: line}
			}
			record.Return = &code
		case "CMD":
			record.CMD = value
			sawCMD = true
		default:
			if record.Extra == nil {
				record.Extra = make(map[string]string)
			}
			record.Extra[key] = value
		}
	}
	if !sawID {
		return ReplyRecord{}, &MalformedRecordError{Line: lineNo, Reason: "missing ID", Raw: line}
	}
	if !sawCMD {
		return ReplyRecord{}, &MalformedRecordError{Line: lineNo, Reason: "missing CMD", Raw: line}
	}
	return record, nil
}
