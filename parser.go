package nats

import (
	"bytes"
	"fmt"
	"strconv"
)

// parser states, per spec.md §4.2.
type parserState int

const (
	opStart parserState = iota
	opPlus
	opPlusOK
	opMinus
	opMinusErrArg
	opM
	opMSG
	opMsgArgs
	opMsgPayload
	opMsgEnd
	opH
	opHMSG
	opHdrArgs
	opHdrBlock
	opPayloadRemainder
	opP
	opPING
	opPONG
	opI
	opINFOArg
)

// parseEvent is the typed event the parser hands to the connection on
// completion of each top-level wire item (spec.md §4.2).
type parseEvent struct {
	kind    parseEventKind
	msg     *Msg
	sid     int64
	infoRaw []byte
	errText string
}

type parseEventKind int

const (
	evInfo parseEventKind = iota
	evMsg
	evPing
	evPong
	evOK
	evErr
)

// parser is a byte-addressed incremental state machine for the text
// protocol (spec.md §4.2). It consumes as much of an input buffer as
// possible per Parse call and retains partial-argument state across calls
// (a message boundary never has to land on a single read).
type parser struct {
	state parserState

	argBuf    []byte // not read by Parse; argument bytes accumulate in scratch
	argBufMax int

	// msgArgs accumulates the parsed MSG/HMSG argument line.
	subject  []byte
	replyTo  []byte
	sidBuf   []byte
	hdrLen   int
	totalLen int
	isHdr    bool

	payload    []byte
	payloadPos int

	// scratch accumulates argument bytes for INFO/-ERR/+OK and MSG/HMSG.
	scratch []byte

	onEvent func(parseEvent)
}

func newParser(onEvent func(parseEvent)) *parser {
	return &parser{onEvent: onEvent, argBufMax: 4096}
}

// parseErr signals malformed input: per spec.md §4.2 error policy the
// caller (Conn) must then request a disconnect.
type parseErr struct{ msg string }

func (e *parseErr) Error() string { return "parse error: " + e.msg }

// Parse consumes as much of buf as forms complete protocol elements,
// invoking onEvent for each, and returns an error if the input is
// malformed. The parser is not re-entrant; it is only ever driven by the
// connection's single reader goroutine.
func (p *parser) Parse(buf []byte) error {
	i := 0
	n := len(buf)
	for i < n {
		b := buf[i]
		switch p.state {
		case opStart:
			switch b {
			case 'M', 'm':
				p.state = opM
			case 'H', 'h':
				p.state = opH
			case 'P', 'p':
				p.state = opP
			case '+':
				p.state = opPlus
			case '-':
				p.state = opMinus
			case 'I', 'i':
				p.state = opI
			case '\r', '\n':
				// tolerate stray CRLF between frames
			default:
				return &parseErr{fmt.Sprintf("unexpected byte %q at OP_START", b)}
			}
			i++

		case opM:
			if b == 'S' || b == 's' {
				p.state = opMSG
				i++
			} else {
				return &parseErr{"malformed MSG op"}
			}

		case opMSG:
			// Consume the trailing G of "MSG" and the following spaces,
			// then accumulate the argument line up to CRLF.
			if b == 'G' || b == 'g' {
				i++
				continue
			}
			if b == ' ' || b == '\t' {
				i++
				continue
			}
			p.scratch = p.scratch[:0]
			p.state = opMsgArgs
			// fallthrough without consuming b

		case opMsgArgs:
			if b == '\r' {
				i++
				continue
			}
			if b == '\n' {
				if err := p.finishMsgArgs(false); err != nil {
					return err
				}
				i++
				continue
			}
			p.scratch = append(p.scratch, b)
			i++

		case opH:
			if b == 'M' || b == 'm' {
				p.state = opHMSG
				i++
			} else {
				return &parseErr{"malformed HMSG op"}
			}

		case opHMSG:
			if b == 'S' || b == 's' || b == 'G' || b == 'g' {
				i++
				continue
			}
			if b == ' ' || b == '\t' {
				i++
				continue
			}
			p.scratch = p.scratch[:0]
			p.state = opHdrArgs

		case opHdrArgs:
			if b == '\r' {
				i++
				continue
			}
			if b == '\n' {
				if err := p.finishMsgArgs(true); err != nil {
					return err
				}
				i++
				continue
			}
			p.scratch = append(p.scratch, b)
			i++

		case opMsgPayload, opHdrBlock, opPayloadRemainder:
			remaining := p.totalLen - p.payloadPos
			avail := n - i
			take := remaining
			if take > avail {
				take = avail
			}
			p.payload = append(p.payload, buf[i:i+take]...)
			p.payloadPos += take
			i += take
			if p.payloadPos >= p.totalLen {
				p.state = opMsgEnd
			}

		case opMsgEnd:
			// consume trailing \r\n
			if b == '\r' {
				i++
				continue
			}
			if b == '\n' {
				p.emitMsg()
				p.state = opStart
				i++
				continue
			}
			// Tolerate servers that omit \r and go straight to next op.
			p.emitMsg()
			p.state = opStart

		case opP:
			if b == 'I' || b == 'i' {
				p.state = opPING
			} else if b == 'O' || b == 'o' {
				p.state = opPONG
			} else {
				return &parseErr{"malformed PING/PONG op"}
			}
			i++

		case opPING:
			if b == '\n' {
				p.onEvent(parseEvent{kind: evPing})
				p.state = opStart
			}
			i++

		case opPONG:
			if b == '\n' {
				p.onEvent(parseEvent{kind: evPong})
				p.state = opStart
			}
			i++

		case opPlus:
			if b == 'O' || b == 'o' {
				p.state = opPlusOK
			} else {
				return &parseErr{"malformed +OK"}
			}
			i++

		case opPlusOK:
			if b == '\n' {
				p.onEvent(parseEvent{kind: evOK})
				p.state = opStart
			}
			i++

		case opMinus:
			if b == 'E' || b == 'e' {
				p.state = opMinusErrArg
				p.scratch = p.scratch[:0]
			} else {
				return &parseErr{"malformed -ERR"}
			}
			i++

		case opMinusErrArg:
			if b == '\n' {
				p.onEvent(parseEvent{kind: evErr, errText: string(bytes.Trim(p.scratch, "\r RX'"))})
				p.state = opStart
				i++
				continue
			}
			p.scratch = append(p.scratch, b)
			i++

		case opI:
			if b == 'N' || b == 'n' {
				p.state = opINFOArg
				p.scratch = p.scratch[:0]
			} else {
				return &parseErr{"malformed INFO"}
			}
			i++

		case opINFOArg:
			if b == '\n' {
				raw := bytes.TrimSpace(p.scratch)
				// Drop the remaining "FO " prefix bytes if this is the
				// first pass through (scratch still holds "FO {...}").
				if idx := bytes.IndexByte(raw, '{'); idx >= 0 {
					raw = raw[idx:]
				}
				p.onEvent(parseEvent{kind: evInfo, infoRaw: append([]byte(nil), raw...)})
				p.state = opStart
				i++
				continue
			}
			p.scratch = append(p.scratch, b)
			i++

		default:
			return &parseErr{"unknown parser state"}
		}
	}
	return nil
}

// finishMsgArgs parses the accumulated MSG/HMSG argument line:
// "<subject> <sid> [reply] [hdrLen] <totalLen>" and transitions into
// payload accumulation.
func (p *parser) finishMsgArgs(hasHeader bool) error {
	fields := splitArgs(p.scratch)
	p.isHdr = hasHeader
	p.payload = p.payload[:0]
	p.payloadPos = 0

	var subj, sid, reply string
	var hdrLen, totalLen int
	var err error

	switch {
	case !hasHeader && len(fields) == 3:
		subj, sid = fields[0], fields[1]
		totalLen, err = strconv.Atoi(fields[2])
	case !hasHeader && len(fields) == 4:
		subj, sid, reply = fields[0], fields[1], fields[2]
		totalLen, err = strconv.Atoi(fields[3])
	case hasHeader && len(fields) == 4:
		subj, sid = fields[0], fields[1]
		hdrLen, err = strconv.Atoi(fields[2])
		if err == nil {
			totalLen, err = strconv.Atoi(fields[3])
		}
	case hasHeader && len(fields) == 5:
		subj, sid, reply = fields[0], fields[1], fields[2]
		hdrLen, err = strconv.Atoi(fields[3])
		if err == nil {
			totalLen, err = strconv.Atoi(fields[4])
		}
	default:
		return &parseErr{"malformed MSG/HMSG argument count"}
	}
	if err != nil {
		return &parseErr{"malformed MSG/HMSG length: " + err.Error()}
	}
	if totalLen < hdrLen || totalLen < 0 {
		return &parseErr{"malformed MSG/HMSG length fields"}
	}

	p.subject = []byte(subj)
	p.replyTo = []byte(reply)
	p.sidBuf = []byte(sid)
	p.hdrLen = hdrLen
	p.totalLen = totalLen

	if hasHeader {
		p.state = opHdrBlock
	} else {
		p.state = opMsgPayload
	}
	return nil
}

func (p *parser) emitMsg() {
	sid, _ := strconv.ParseInt(string(p.sidBuf), 10, 64)
	m := &Msg{Subject: string(p.subject), Reply: string(p.replyTo)}

	if p.isHdr {
		hdrBytes := p.payload[:p.hdrLen]
		m.Header = parseHeaderBlock(hdrBytes)
		m.Data = append([]byte(nil), p.payload[p.hdrLen:p.totalLen]...)
	} else {
		m.Data = append([]byte(nil), p.payload[:p.totalLen]...)
	}
	p.onEvent(parseEvent{kind: evMsg, msg: m, sid: sid})
}

func splitArgs(b []byte) []string {
	var out []string
	start := -1
	for i := 0; i <= len(b); i++ {
		if i < len(b) && b[i] != ' ' && b[i] != '\t' {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			out = append(out, string(b[start:i]))
			start = -1
		}
	}
	return out
}

// parseHeaderBlock parses the HTTP-like header block (spec.md §6):
// "NATS/1.0[ <code>[ <description>]]\r\n" followed by "Key: Value\r\n"
// lines (duplicates allowed, order preserved), terminated by a blank line.
func parseHeaderBlock(b []byte) Header {
	h := NewHeader()
	lines := bytes.Split(b, []byte("\r\n"))
	if len(lines) == 0 {
		return h
	}
	status := bytes.TrimSpace(bytes.TrimPrefix(lines[0], []byte("NATS/1.0")))
	if len(status) > 0 {
		parts := bytes.SplitN(status, []byte(" "), 2)
		h.Add(headerStatusKey, string(parts[0]))
		if len(parts) == 2 {
			h.Add(headerDescriptionKey, string(bytes.TrimSpace(parts[1])))
		}
	}
	for _, line := range lines[1:] {
		if len(line) == 0 {
			continue
		}
		idx := bytes.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		key := string(bytes.TrimSpace(line[:idx]))
		val := string(bytes.TrimSpace(line[idx+1:]))
		h.Add(key, val)
	}
	return h
}

// encodeHeaderBlock is the inverse of parseHeaderBlock, used by the writer
// when publishing a message carrying headers (HPUB).
func encodeHeaderBlock(h Header) []byte {
	var buf bytes.Buffer
	buf.WriteString(hdrPreface)
	for k, vs := range h {
		if k == headerStatusKey || k == headerDescriptionKey {
			continue
		}
		for _, v := range vs {
			buf.WriteString(k)
			buf.WriteString(": ")
			buf.WriteString(v)
			buf.WriteString("\r\n")
		}
	}
	buf.WriteString("\r\n")
	return buf.Bytes()
}
