package model

import "encoding/binary"

// Payload is the binary wire format a cached response is stored as: a
// 20-byte offset table followed by five sections. It is immutable once
// built and is what Entry.Payload holds.
type Payload []byte

const offsetsTableSize = 20

const (
	offQueries = 0
	offReqHdrs = 4
	offStatus  = 8
	offRespHdr = 12
	offBody    = 16
)

// RequestPayload is the decoded request-identifying half of a Payload.
type RequestPayload struct {
	Queries        []KV
	RequestHeaders []KV
}

// ResponsePayload is the decoded response half of a Payload.
type ResponsePayload struct {
	Status          uint32
	ResponseHeaders []KV
	Body            []byte
}

// EncodePayload packs the five sections into the wire format, computing
// the offset table as it goes.
func EncodePayload(queries, reqHeaders []KV, status uint32, respHeaders []KV, body []byte) Payload {
	queriesSec := packKV(queries)
	reqHdrSec := packKV(reqHeaders)
	respHdrSec := packKV(respHeaders)

	queriesOff := uint32(offsetsTableSize)
	reqHdrOff := queriesOff + uint32(len(queriesSec))
	statusOff := reqHdrOff + uint32(len(reqHdrSec))
	respHdrOff := statusOff + 4
	bodyOff := respHdrOff + uint32(len(respHdrSec))

	total := int(bodyOff) + 4 + len(body)
	buf := make([]byte, total)

	binary.LittleEndian.PutUint32(buf[offQueries:], queriesOff)
	binary.LittleEndian.PutUint32(buf[offReqHdrs:], reqHdrOff)
	binary.LittleEndian.PutUint32(buf[offStatus:], statusOff)
	binary.LittleEndian.PutUint32(buf[offRespHdr:], respHdrOff)
	binary.LittleEndian.PutUint32(buf[offBody:], bodyOff)

	copy(buf[queriesOff:], queriesSec)
	copy(buf[reqHdrOff:], reqHdrSec)
	binary.LittleEndian.PutUint32(buf[statusOff:], status)
	copy(buf[respHdrOff:], respHdrSec)
	binary.LittleEndian.PutUint32(buf[bodyOff:], uint32(len(body)))
	copy(buf[bodyOff+4:], body)

	return Payload(buf)
}

func packKV(pairs []KV) []byte {
	size := 0
	for _, kv := range pairs {
		size += 4 + len(kv.Key) + 4 + len(kv.Value)
	}
	buf := make([]byte, 0, size)
	for _, kv := range pairs {
		buf = appendU32(buf, uint32(len(kv.Key)))
		buf = append(buf, kv.Key...)
		buf = appendU32(buf, uint32(len(kv.Value)))
		buf = append(buf, kv.Value...)
	}
	return buf
}

func appendU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

// Decode fully decodes a Payload, returning a *PayloadError naming any
// section that fails bounds validation. A nil, empty, or too-short payload
// (< 20 bytes) yields ErrMalformedPayload.
func Decode(p Payload) (*RequestPayload, *ResponsePayload, error) {
	if len(p) < offsetsTableSize {
		return nil, nil, ErrMalformedPayload
	}

	queriesOff := binary.LittleEndian.Uint32(p[offQueries:])
	reqHdrOff := binary.LittleEndian.Uint32(p[offReqHdrs:])
	statusOff := binary.LittleEndian.Uint32(p[offStatus:])
	respHdrOff := binary.LittleEndian.Uint32(p[offRespHdr:])
	bodyOff := binary.LittleEndian.Uint32(p[offBody:])

	queries, err := unpackKV(p, queriesOff, reqHdrOff, SectionQueries)
	if err != nil {
		return nil, nil, err
	}
	reqHeaders, err := unpackKV(p, reqHdrOff, statusOff, SectionRequestHeaders)
	if err != nil {
		return nil, nil, err
	}
	status, err := unpackStatus(p, statusOff, respHdrOff)
	if err != nil {
		return nil, nil, err
	}
	respHeaders, err := unpackKV(p, respHdrOff, bodyOff, SectionResponseHeaders)
	if err != nil {
		return nil, nil, err
	}
	body, err := unpackBody(p, bodyOff)
	if err != nil {
		return nil, nil, err
	}

	return &RequestPayload{Queries: queries, RequestHeaders: reqHeaders},
		&ResponsePayload{Status: status, ResponseHeaders: respHeaders, Body: body},
		nil
}

// RequestPayloadOnly decodes just the request-identifying sections, for
// callers that only need to replay queries/headers without touching the
// response body.
func RequestPayloadOnly(p Payload) (*RequestPayload, error) {
	req, _, err := Decode(p)
	return req, err
}

// ResponsePayloadOnly decodes just the response sections.
func ResponsePayloadOnly(p Payload) (*ResponsePayload, error) {
	_, resp, err := Decode(p)
	return resp, err
}

func unpackKV(p Payload, start, end uint32, sec Section) ([]KV, error) {
	if end < start || end > uint32(len(p)) {
		return nil, &PayloadError{Section: sec, Reason: "section bounds out of range"}
	}
	buf := p[start:end]
	var out []KV
	i := 0
	for i < len(buf) {
		kv, n, err := readKV(buf[i:], sec)
		if err != nil {
			return nil, err
		}
		out = append(out, kv)
		i += n
	}
	return out, nil
}

func readKV(buf []byte, sec Section) (KV, int, error) {
	if len(buf) < 4 {
		return KV{}, 0, &PayloadError{Section: sec, Reason: "truncated key length"}
	}
	klen := int(binary.LittleEndian.Uint32(buf))
	off := 4
	if off+klen > len(buf) {
		return KV{}, 0, &PayloadError{Section: sec, Reason: "truncated key bytes"}
	}
	key := buf[off : off+klen]
	off += klen

	if off+4 > len(buf) {
		return KV{}, 0, &PayloadError{Section: sec, Reason: "truncated value length"}
	}
	vlen := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	if off+vlen > len(buf) {
		return KV{}, 0, &PayloadError{Section: sec, Reason: "truncated value bytes"}
	}
	val := buf[off : off+vlen]
	off += vlen

	return KV{Key: key, Value: val}, off, nil
}

func unpackStatus(p Payload, start, end uint32) (uint32, error) {
	if end < start || start+4 > uint32(len(p)) || start+4 > end {
		return 0, &PayloadError{Section: SectionStatus, Reason: "section bounds out of range"}
	}
	return binary.LittleEndian.Uint32(p[start:]), nil
}

func unpackBody(p Payload, start uint32) ([]byte, error) {
	if start+4 > uint32(len(p)) {
		return nil, &PayloadError{Section: SectionBody, Reason: "truncated body length"}
	}
	bodyLen := binary.LittleEndian.Uint32(p[start:])
	bodyStart := start + 4
	if uint64(bodyStart)+uint64(bodyLen) > uint64(len(p)) {
		return nil, &PayloadError{Section: SectionBody, Reason: "truncated body bytes"}
	}
	return p[bodyStart : bodyStart+bodyLen], nil
}
