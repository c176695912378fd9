package artifact

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

const envelopeMagic = "EDNA"

// ErrIncompatibleVersion is returned when a stored artifact was written with a
// different kind or schema version than the reader expects.
var ErrIncompatibleVersion = errors.New("artifact: incompatible version")

// envelope is the on-disk wrapper for every binary artifact: a magic marker,
// what the payload is, the payload's schema version, then the payload itself.
type envelope struct {
	Magic   string             `msgpack:"magic"`
	Kind    string             `msgpack:"kind"`
	Version uint16             `msgpack:"version"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

// Seal encodes payload with msgpack and wraps it in a versioned envelope.
func Seal(kind string, version uint16, payload any) ([]byte, error) {
	raw, err := msgpack.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	data, err := msgpack.Marshal(&envelope{
		Magic:   envelopeMagic,
		Kind:    kind,
		Version: version,
		Payload: raw,
	})
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", kind, err)
	}
	return data, nil
}

// Open checks the envelope header and decodes its payload into out.
func Open(data []byte, kind string, version uint16, out any) error {
	var env envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("%w: unreadable envelope: %v", ErrIncompatibleVersion, err)
	}
	if env.Magic != envelopeMagic {
		return fmt.Errorf("%w: bad magic %q", ErrIncompatibleVersion, env.Magic)
	}
	if env.Kind != kind {
		return fmt.Errorf("%w: kind %q, want %q", ErrIncompatibleVersion, env.Kind, kind)
	}
	if env.Version != version {
		return fmt.Errorf("%w: %s version %d, want %d", ErrIncompatibleVersion, kind, env.Version, version)
	}
	if err := msgpack.Unmarshal(env.Payload, out); err != nil {
		return fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return nil
}
