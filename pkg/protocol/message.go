// Package protocol defines the wire types exchanged over the WebSocket
// channel: the JSON control envelope and the binary slice frame.
//
// Enum-like types use externally tagged encoding: unit variants are bare
// strings ("Establish"), payload variants are single-key objects
// ({"Text": "hello"}). This keeps the wire format stable for clients
// that treat the variant name as the outer object key.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Client identifies one session of one user on the wire.
type Client struct {
	Username    string `json:"username"`
	UserCtxHash string `json:"user_ctx_hash"`
}

// SenderKind enumerates who authored an envelope.
type SenderKind int

const (
	SenderServer SenderKind = iota
	SenderUser
	SenderManager
)

// Sender is the author of an envelope: the server itself, a regular
// user session, or a manager session.
type Sender struct {
	Kind   SenderKind
	Client Client // valid for SenderUser and SenderManager
}

// ServerSender returns the server-authored sender.
func ServerSender() Sender {
	return Sender{Kind: SenderServer}
}

// UserSender returns a sender for a regular user session.
func UserSender(c Client) Sender {
	return Sender{Kind: SenderUser, Client: c}
}

// ManagerSender returns a sender for a manager session.
func ManagerSender(c Client) Sender {
	return Sender{Kind: SenderManager, Client: c}
}

// MarshalJSON implements json.Marshaler.
func (s Sender) MarshalJSON() ([]byte, error) {
	switch s.Kind {
	case SenderServer:
		return json.Marshal("Server")
	case SenderUser:
		return json.Marshal(map[string]Client{"User": s.Client})
	case SenderManager:
		return json.Marshal(map[string]Client{"Manager": s.Client})
	default:
		return nil, fmt.Errorf("unknown sender kind %d", s.Kind)
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Sender) UnmarshalJSON(data []byte) error {
	var unit string
	if err := json.Unmarshal(data, &unit); err == nil {
		if unit != "Server" {
			return fmt.Errorf("unknown sender variant %q", unit)
		}
		*s = Sender{Kind: SenderServer}
		return nil
	}

	var tagged map[string]Client
	if err := json.Unmarshal(data, &tagged); err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}
	if len(tagged) != 1 {
		return fmt.Errorf("sender must have exactly one variant, got %d", len(tagged))
	}
	for tag, client := range tagged {
		switch tag {
		case "User":
			*s = Sender{Kind: SenderUser, Client: client}
		case "Manager":
			*s = Sender{Kind: SenderManager, Client: client}
		default:
			return fmt.Errorf("unknown sender variant %q", tag)
		}
	}
	return nil
}

// PolicyKind enumerates how an envelope is routed.
type PolicyKind int

const (
	// Broadcast delivers to every connected session.
	Broadcast PolicyKind = iota
	// BroadcastExceptMe delivers to every session but the origin.
	BroadcastExceptMe
	// BroadcastSameUser delivers to all sessions of the origin's user.
	BroadcastSameUser
	// BroadcastSameUserExceptMe is BroadcastSameUser minus the origin.
	BroadcastSameUserExceptMe
	// Server re-queues the envelope to the origin session's own handler.
	Server
	// Targets delivers to an explicit list of sessions.
	Targets
)

var policyNames = map[PolicyKind]string{
	Broadcast:                 "Broadcast",
	BroadcastExceptMe:         "BroadcastExceptMe",
	BroadcastSameUser:         "BroadcastSameUser",
	BroadcastSameUserExceptMe: "BroadcastSameUserExceptMe",
	Server:                    "Server",
}

// Policy is an envelope's dispatch policy.
type Policy struct {
	Kind    PolicyKind
	Targets []Client // valid for Targets
}

// PolicyOf returns a unit-variant policy.
func PolicyOf(kind PolicyKind) Policy {
	return Policy{Kind: kind}
}

// TargetsPolicy returns a policy delivering to exactly the given clients.
func TargetsPolicy(targets ...Client) Policy {
	return Policy{Kind: Targets, Targets: targets}
}

// MarshalJSON implements json.Marshaler.
func (p Policy) MarshalJSON() ([]byte, error) {
	if p.Kind == Targets {
		targets := p.Targets
		if targets == nil {
			targets = []Client{}
		}
		return json.Marshal(map[string][]Client{"Targets": targets})
	}
	name, ok := policyNames[p.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown policy kind %d", p.Kind)
	}
	return json.Marshal(name)
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Policy) UnmarshalJSON(data []byte) error {
	var unit string
	if err := json.Unmarshal(data, &unit); err == nil {
		for kind, name := range policyNames {
			if name == unit {
				*p = Policy{Kind: kind}
				return nil
			}
		}
		return fmt.Errorf("unknown policy variant %q", unit)
	}

	var tagged map[string][]Client
	if err := json.Unmarshal(data, &tagged); err != nil {
		return fmt.Errorf("invalid policy: %w", err)
	}
	targets, ok := tagged["Targets"]
	if !ok || len(tagged) != 1 {
		return fmt.Errorf("policy object must be a single Targets variant")
	}
	*p = Policy{Kind: Targets, Targets: targets}
	return nil
}

// MessageKind enumerates the control message classes.
type MessageKind int

const (
	KindHeartBeat MessageKind = iota
	KindEstablish
	KindReconnect
	KindCreateWsWorker
	KindLeave
	KindFileSendable
	KindFileResponse
	KindFileRequest
	KindPleaseSend
	KindText
	KindNotify
	KindErrjson
)

// Message is the "msg" part of an envelope. Exactly the fields for the
// active Kind are meaningful.
type Message struct {
	Kind MessageKind

	HeartBeat    *HeartBeat
	WorkerID     uint64
	FileSendable *FileSendable
	FileResponse *FileResponse
	FileRequest  *FileRequest
	PleaseSend   *PleaseSend
	Text         string // shared by Text, Notify and Errjson
}

// HeartBeat carries the client's current settings and, on the reply,
// a snapshot of server-side counters.
type HeartBeat struct {
	Config    UserConfig `json:"config"`
	Dashboard Dashboard  `json:"dashboard"`
}

// Dashboard is the counter snapshot surfaced in heartbeat replies.
type Dashboard struct {
	OnlineUsers     uint64 `json:"online_users"`
	OnlineClients   uint64 `json:"online_clients"`
	UserUsedStorage uint64 `json:"user_used_storage"`
	UserMaxStorage  uint64 `json:"user_max_storage"`
}

// FileRequest announces an upload before the first slice arrives.
type FileRequest struct {
	Username      string `json:"username"`
	Name          string `json:"name"`
	Size          uint64 `json:"size"`
	SliceSize     uint64 `json:"slice_size"`
	LastModifiedT uint64 `json:"last_modified_t"`
	FileHash      string `json:"file_hash"`
}

// SliceCount returns the number of slices the upload needs.
func (r *FileRequest) SliceCount() uint64 {
	if r.SliceSize == 0 {
		return 0
	}
	return (r.Size + r.SliceSize - 1) / r.SliceSize
}

// FileSendable answers a FileRequest. FileElem is nil when admission
// was refused (quota or I/O failure).
type FileSendable struct {
	FileElem    *FileListElem `json:"file_elem"`
	Req         FileRequest   `json:"req"`
	Hashval     string        `json:"hashval"`
	UserCtxHash string        `json:"user_ctx_hash"`
}

// SliceStatus is the outcome of one slice write, or the terminal states
// of an upload.
type SliceStatus string

const (
	SliceOk       SliceStatus = "Ok"
	SliceFinish   SliceStatus = "Finish"
	SliceResend   SliceStatus = "Resend"
	SliceFatalerr SliceStatus = "Fatalerr"
)

// SliceRange is a half-open slice index interval [Start, End), encoded
// on the wire as a two-element array.
type SliceRange [2]uint64

// RangeOf returns the single-slice range for index i.
func RangeOf(i uint64) SliceRange {
	return SliceRange{i, i + 1}
}

// FileResponse reports the status of one slice of an in-flight upload.
type FileResponse struct {
	Name     string      `json:"name"`
	FileHash string      `json:"file_hash"`
	SliceIdx SliceRange  `json:"slice_idx"`
	Status   SliceStatus `json:"status"`
}

// PleaseSend nudges a stalled client to resume sending slices.
type PleaseSend struct {
	FileHash string `json:"file_hash"`
}

// Constructors for the unit and payload variants.

func NewEstablish() Message { return Message{Kind: KindEstablish} }

func NewReconnect() Message { return Message{Kind: KindReconnect} }

func NewLeave() Message { return Message{Kind: KindLeave} }

func NewText(s string) Message {
	return Message{Kind: KindText, Text: s}
}
func NewNotify(s string) Message {
	return Message{Kind: KindNotify, Text: s}
}
func NewErrjson(s string) Message {
	return Message{Kind: KindErrjson, Text: s}
}
func NewCreateWsWorker(id uint64) Message {
	return Message{Kind: KindCreateWsWorker, WorkerID: id}
}
func NewHeartBeat(hb HeartBeat) Message {
	return Message{Kind: KindHeartBeat, HeartBeat: &hb}
}
func NewFileSendable(fs FileSendable) Message {
	return Message{Kind: KindFileSendable, FileSendable: &fs}
}
func NewFileResponse(fr FileResponse) Message {
	return Message{Kind: KindFileResponse, FileResponse: &fr}
}
func NewFileRequest(req FileRequest) Message {
	return Message{Kind: KindFileRequest, FileRequest: &req}
}
func NewPleaseSend(fileHash string) Message {
	return Message{Kind: KindPleaseSend, PleaseSend: &PleaseSend{FileHash: fileHash}}
}

// MarshalJSON implements json.Marshaler.
func (m Message) MarshalJSON() ([]byte, error) {
	switch m.Kind {
	case KindEstablish:
		return json.Marshal("Establish")
	case KindReconnect:
		return json.Marshal("Reconnect")
	case KindLeave:
		return json.Marshal("Leave")
	case KindHeartBeat:
		return json.Marshal(map[string]*HeartBeat{"HeartBeat": m.HeartBeat})
	case KindCreateWsWorker:
		return json.Marshal(map[string]uint64{"CreateWsWorker": m.WorkerID})
	case KindFileSendable:
		return json.Marshal(map[string]*FileSendable{"FileSendable": m.FileSendable})
	case KindFileResponse:
		return json.Marshal(map[string]*FileResponse{"FileResponse": m.FileResponse})
	case KindFileRequest:
		return json.Marshal(map[string]*FileRequest{"FileRequest": m.FileRequest})
	case KindPleaseSend:
		return json.Marshal(map[string]*PleaseSend{"PleaseSend": m.PleaseSend})
	case KindText:
		return json.Marshal(map[string]string{"Text": m.Text})
	case KindNotify:
		return json.Marshal(map[string]string{"Notify": m.Text})
	case KindErrjson:
		return json.Marshal(map[string]string{"Errjson": m.Text})
	default:
		return nil, fmt.Errorf("unknown message kind %d", m.Kind)
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Message) UnmarshalJSON(data []byte) error {
	var unit string
	if err := json.Unmarshal(data, &unit); err == nil {
		switch unit {
		case "Establish":
			*m = NewEstablish()
		case "Reconnect":
			*m = NewReconnect()
		case "Leave":
			*m = NewLeave()
		default:
			return fmt.Errorf("unknown message variant %q", unit)
		}
		return nil
	}

	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(data, &tagged); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}
	if len(tagged) != 1 {
		return fmt.Errorf("message must have exactly one variant, got %d", len(tagged))
	}

	for tag, raw := range tagged {
		switch tag {
		case "HeartBeat":
			var hb HeartBeat
			if err := json.Unmarshal(raw, &hb); err != nil {
				return fmt.Errorf("invalid HeartBeat payload: %w", err)
			}
			*m = Message{Kind: KindHeartBeat, HeartBeat: &hb}
		case "CreateWsWorker":
			var id uint64
			if err := json.Unmarshal(raw, &id); err != nil {
				return fmt.Errorf("invalid CreateWsWorker payload: %w", err)
			}
			*m = Message{Kind: KindCreateWsWorker, WorkerID: id}
		case "FileSendable":
			var fs FileSendable
			if err := json.Unmarshal(raw, &fs); err != nil {
				return fmt.Errorf("invalid FileSendable payload: %w", err)
			}
			*m = Message{Kind: KindFileSendable, FileSendable: &fs}
		case "FileResponse":
			var fr FileResponse
			if err := json.Unmarshal(raw, &fr); err != nil {
				return fmt.Errorf("invalid FileResponse payload: %w", err)
			}
			*m = Message{Kind: KindFileResponse, FileResponse: &fr}
		case "FileRequest":
			var req FileRequest
			if err := json.Unmarshal(raw, &req); err != nil {
				return fmt.Errorf("invalid FileRequest payload: %w", err)
			}
			*m = Message{Kind: KindFileRequest, FileRequest: &req}
		case "PleaseSend":
			var ps PleaseSend
			if err := json.Unmarshal(raw, &ps); err != nil {
				return fmt.Errorf("invalid PleaseSend payload: %w", err)
			}
			*m = Message{Kind: KindPleaseSend, PleaseSend: &ps}
		case "Text", "Notify", "Errjson":
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return fmt.Errorf("invalid %s payload: %w", tag, err)
			}
			kind := KindText
			if tag == "Notify" {
				kind = KindNotify
			} else if tag == "Errjson" {
				kind = KindErrjson
			}
			*m = Message{Kind: kind, Text: s}
		default:
			return fmt.Errorf("unknown message variant %q", tag)
		}
	}
	return nil
}

// Envelope is one control message on the wire.
type Envelope struct {
	Sender Sender  `json:"sender"`
	Msg    Message `json:"msg"`
	Policy Policy  `json:"policy"`
}

// EncodeEnvelope serializes an envelope to its wire JSON.
func EncodeEnvelope(e Envelope) ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEnvelope parses wire JSON into an envelope.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, err
	}
	return e, nil
}
