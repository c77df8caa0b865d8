package quicnet

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/danmuck/lockstep/internal/protocol/call"
)

const (
	helloType    = "lockstep.hello"
	helloAckType = "lockstep.hello.ack"

	AckStatusAccepted = "accepted"
	AckStatusRejected = "rejected"
)

var (
	ErrInvalidHello    = errors.New("quicnet: invalid hello")
	ErrInvalidHelloAck = errors.New("quicnet: invalid hello ack")
	ErrHelloRejected   = errors.New("quicnet: hello rejected")
)

// Hello opens every link: the dialing peer names itself and the host it
// expects to reach.
type Hello struct {
	Identity string `json:"identity"`
	Host     string `json:"host"`
}

func (h Hello) Validate() error {
	if strings.TrimSpace(h.Identity) == "" {
		return fmt.Errorf("%w: missing identity", ErrInvalidHello)
	}
	return nil
}

type HelloAck struct {
	Status   string `json:"status"`
	Identity string `json:"identity"`
	Message  string `json:"message,omitempty"`
}

func (a HelloAck) Validate() error {
	status := strings.TrimSpace(a.Status)
	if status != AckStatusAccepted && status != AckStatusRejected {
		return fmt.Errorf("%w: invalid status", ErrInvalidHelloAck)
	}
	if strings.TrimSpace(a.Identity) == "" {
		return fmt.Errorf("%w: missing identity", ErrInvalidHelloAck)
	}
	return nil
}

type envelope struct {
	Type  string    `json:"type"`
	Hello *Hello    `json:"hello,omitempty"`
	Ack   *HelloAck `json:"hello_ack,omitempty"`
}

func WriteHello(w io.Writer, h Hello, limits call.Limits) error {
	if err := h.Validate(); err != nil {
		return err
	}
	return writeEnvelope(w, envelope{Type: helloType, Hello: &h}, limits)
}

func ReadHello(r io.Reader, limits call.Limits) (Hello, error) {
	env, err := readEnvelope(r, limits)
	if err != nil {
		return Hello{}, err
	}
	if env.Type != helloType || env.Hello == nil {
		return Hello{}, fmt.Errorf("%w: unexpected type %q", ErrInvalidHello, env.Type)
	}
	if err := env.Hello.Validate(); err != nil {
		return Hello{}, err
	}
	return *env.Hello, nil
}

func WriteHelloAck(w io.Writer, ack HelloAck, limits call.Limits) error {
	if err := ack.Validate(); err != nil {
		return err
	}
	return writeEnvelope(w, envelope{Type: helloAckType, Ack: &ack}, limits)
}

func ReadHelloAck(r io.Reader, limits call.Limits) (HelloAck, error) {
	env, err := readEnvelope(r, limits)
	if err != nil {
		return HelloAck{}, err
	}
	if env.Type != helloAckType || env.Ack == nil {
		return HelloAck{}, fmt.Errorf("%w: unexpected type %q", ErrInvalidHelloAck, env.Type)
	}
	if err := env.Ack.Validate(); err != nil {
		return HelloAck{}, err
	}
	return *env.Ack, nil
}

func writeEnvelope(w io.Writer, env envelope, limits call.Limits) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return call.WriteRecord(w, payload, limits)
}

func readEnvelope(r io.Reader, limits call.Limits) (envelope, error) {
	payload, err := call.ReadRecord(r, limits)
	if err != nil {
		return envelope{}, err
	}
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return envelope{}, fmt.Errorf("quicnet: decode envelope: %w", err)
	}
	return env, nil
}
