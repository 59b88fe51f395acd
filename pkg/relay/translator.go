// Package relay re-encodes wire messages between protocol versions so that
// peers speaking different versions can exchange traffic.
package relay

import (
	"fmt"
	"slices"

	"github.com/ZentaChain/zentalk-streams/pkg/control"
	"github.com/ZentaChain/zentalk-streams/pkg/metrics"
	"github.com/ZentaChain/zentalk-streams/pkg/protocol"
)

// Class selects the message class of a frame
type Class string

const (
	ClassAuto    Class = ""
	ClassStream  Class = "stream"
	ClassControl Class = "control"
)

// ParseClass accepts "", "auto", "stream" and "control"
func ParseClass(s string) (Class, error) {
	switch s {
	case "", "auto":
		return ClassAuto, nil
	case string(ClassStream), string(ClassControl):
		return Class(s), nil
	}
	return "", fmt.Errorf("unknown message class %q", s)
}

// Options configures a Translator. Zero versions select the latest.
type Options struct {
	StreamMessageVersion int
	ControlVersion       int
	StreamMessages       *protocol.StreamMessageRegistry
	Volume               *metrics.Volume
}

// Translator decodes frames of any supported version and encodes them at
// fixed target versions.
type Translator struct {
	streams        *protocol.StreamMessageRegistry
	controls       *control.Registry
	streamVersion  int
	controlVersion int
	volume         *metrics.Volume
}

// NewTranslator checks the target versions and builds the registries
func NewTranslator(opts Options) (*Translator, error) {
	streams := opts.StreamMessages
	if streams == nil {
		streams = protocol.DefaultStreamMessageRegistry()
	}

	streamVersion := opts.StreamMessageVersion
	if streamVersion == 0 {
		streamVersion = streams.LatestVersion()
	}
	if !slices.Contains(streams.SupportedVersions(), streamVersion) {
		return nil, &protocol.UnsupportedVersionError{Class: streams.Class(), Version: streamVersion}
	}

	controls := control.NewRegistryWithStreamVersion(streams, streamVersion)
	controlVersion := opts.ControlVersion
	if controlVersion == 0 {
		controlVersion = controls.LatestVersion()
	}
	if !slices.Contains(controls.SupportedVersions(), controlVersion) {
		return nil, &protocol.UnsupportedVersionError{Class: controls.Class(), Version: controlVersion}
	}

	return &Translator{
		streams:        streams,
		controls:       controls,
		streamVersion:  streamVersion,
		controlVersion: controlVersion,
		volume:         opts.Volume,
	}, nil
}

// StreamMessageVersion returns the version stream messages are written at
func (t *Translator) StreamMessageVersion() int {
	return t.streamVersion
}

// ControlVersion returns the version control messages are written at
func (t *Translator) ControlVersion() int {
	return t.controlVersion
}

// Translate decodes one JSON framed message and encodes it at the target
// version of its class. With ClassAuto the class is told apart by the
// leading version number, as the control and stream message version ranges
// do not overlap.
func (t *Translator) Translate(data []byte, class Class) ([]byte, Class, error) {
	arr, err := protocol.DecodeJSONArray(data)
	if err != nil {
		err = &protocol.MalformedMessageError{Class: t.className(class), Reason: "invalid JSON array", Err: err}
		t.observeDecodeError(class, err)
		return nil, class, err
	}
	if len(arr) == 0 {
		err = &protocol.MalformedMessageError{Class: t.className(class), Reason: "empty array"}
		t.observeDecodeError(class, err)
		return nil, class, err
	}
	version, _ := protocol.ToInt64(arr[0])

	if class == ClassAuto {
		class = ClassStream
		if slices.Contains(t.controls.SupportedVersions(), int(version)) {
			class = ClassControl
		}
	}

	var out []byte
	switch class {
	case ClassControl:
		msg, err := t.controls.Deserialize(arr)
		if err != nil {
			t.observeDecodeError(class, err)
			return nil, class, err
		}
		t.observeDecoded(t.controls.Class(), int(version), len(data))
		if out, err = t.controls.Marshal(msg, t.controlVersion); err != nil {
			return nil, class, err
		}
		t.observeEncoded(t.controls.Class(), t.controlVersion, len(out))
	case ClassStream:
		msg, err := t.streams.Deserialize(arr)
		if err != nil {
			t.observeDecodeError(class, err)
			return nil, class, err
		}
		t.observeDecoded(t.streams.Class(), int(version), len(data))
		if out, err = t.streams.Marshal(msg, t.streamVersion); err != nil {
			return nil, class, err
		}
		t.observeEncoded(t.streams.Class(), t.streamVersion, len(out))
	default:
		return nil, class, fmt.Errorf("unknown message class %q", class)
	}
	return out, class, nil
}

func (t *Translator) className(class Class) string {
	if class == ClassControl {
		return t.controls.Class()
	}
	return t.streams.Class()
}

func (t *Translator) observeDecoded(class string, version, size int) {
	if t.volume != nil {
		t.volume.ObserveDecoded(class, version, size)
	}
}

func (t *Translator) observeEncoded(class string, version, size int) {
	if t.volume != nil {
		t.volume.ObserveEncoded(class, version, size)
	}
}

func (t *Translator) observeDecodeError(class Class, err error) {
	if t.volume != nil {
		t.volume.ObserveDecodeError(t.className(class), err)
	}
}
