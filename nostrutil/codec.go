package nostrutil

import "encoding/binary"

// The two request payloads that get signed share one canonical wire form:
// every string field is serialized as a 4-byte unsigned little-endian length
// followed by the raw UTF-8 bytes, fields concatenated in declaration order
// with no padding or separators. Signers and verifiers must agree on these
// bytes exactly, so the encoding is fixed here rather than delegated to an
// ambient serializer.

// SignedPayload is implemented by request payloads that carry a signature
// over their canonical encoding.
type SignedPayload interface {
	CanonicalBytes() []byte
}

// SendPayload is the signed body of a notification send request.
type SendPayload struct {
	Kind     string `json:"kind"`
	ID       string `json:"id"`
	Receiver string `json:"receiver"`
	Sender   string `json:"sender"`
}

// CanonicalBytes serializes the payload in its canonical signing form.
func (p SendPayload) CanonicalBytes() []byte {
	buf := make([]byte, 0, 16+len(p.Kind)+len(p.ID)+len(p.Receiver)+len(p.Sender))
	buf = appendString(buf, p.Kind)
	buf = appendString(buf, p.ID)
	buf = appendString(buf, p.Receiver)
	buf = appendString(buf, p.Sender)
	return buf
}

// ProxyPayload is the signed body of a proxy fetch request.
type ProxyPayload struct {
	Npub string `json:"npub"`
	URL  string `json:"url"`
}

// CanonicalBytes serializes the payload in its canonical signing form.
func (p ProxyPayload) CanonicalBytes() []byte {
	buf := make([]byte, 0, 8+len(p.Npub)+len(p.URL))
	buf = appendString(buf, p.Npub)
	buf = appendString(buf, p.URL)
	return buf
}

func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}
