// Package metrics counts the traffic passing through the wire protocol
// layer and exposes it to prometheus.
package metrics

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	dto "github.com/prometheus/client_model/go"

	"github.com/ZentaChain/zentalk-streams/pkg/protocol"
)

const namespace = "streams"

// Decode error reasons
const (
	ReasonUnsupportedVersion = "unsupported_version"
	ReasonMalformed          = "malformed"
	ReasonValidation         = "validation"
	ReasonOther              = "other"
)

// Volume holds the traffic counters of one process
type Volume struct {
	registry *prometheus.Registry

	messagesEncoded *prometheus.CounterVec
	messagesDecoded *prometheus.CounterVec
	bytesEncoded    prometheus.Counter
	bytesDecoded    prometheus.Counter
	decodeErrors    *prometheus.CounterVec
	encryptions     *prometheus.CounterVec
}

// NewVolume creates the counters on a fresh registry, together with the Go
// runtime and process collectors.
func NewVolume() *Volume {
	v := &Volume{
		registry: prometheus.NewRegistry(),
		messagesEncoded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_encoded_total",
				Help:      "Messages serialized, by class and version",
			},
			[]string{"class", "version"},
		),
		messagesDecoded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_decoded_total",
				Help:      "Messages deserialized, by class and version",
			},
			[]string{"class", "version"},
		),
		bytesEncoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_encoded_total",
			Help:      "Bytes of serialized messages written",
		}),
		bytesDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_decoded_total",
			Help:      "Bytes of serialized messages read",
		}),
		decodeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decode_errors_total",
				Help:      "Messages that failed to deserialize, by class and reason",
			},
			[]string{"class", "reason"},
		),
		encryptions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "encryption_decisions_total",
				Help:      "Outgoing messages seen by the encryption gate, by outcome",
			},
			[]string{"outcome"},
		),
	}

	v.registry.MustRegister(
		v.messagesEncoded,
		v.messagesDecoded,
		v.bytesEncoded,
		v.bytesDecoded,
		v.decodeErrors,
		v.encryptions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return v
}

// Registry returns the prometheus registry holding the counters
func (v *Volume) Registry() *prometheus.Registry {
	return v.registry
}

// ObserveEncoded counts one serialized message of size bytes
func (v *Volume) ObserveEncoded(class string, version, size int) {
	v.messagesEncoded.WithLabelValues(class, strconv.Itoa(version)).Inc()
	v.bytesEncoded.Add(float64(size))
}

// ObserveDecoded counts one deserialized message of size bytes
func (v *Volume) ObserveDecoded(class string, version, size int) {
	v.messagesDecoded.WithLabelValues(class, strconv.Itoa(version)).Inc()
	v.bytesDecoded.Add(float64(size))
}

// ObserveDecodeError counts a failed deserialization
func (v *Volume) ObserveDecodeError(class string, err error) {
	v.decodeErrors.WithLabelValues(class, DecodeErrorReason(err)).Inc()
}

// ObserveEncryption counts an encryption gate decision
func (v *Volume) ObserveEncryption(encrypted bool) {
	outcome := "plaintext"
	if encrypted {
		outcome = "encrypted"
	}
	v.encryptions.WithLabelValues(outcome).Inc()
}

// DecodeErrorReason maps a registry error to its metric label
func DecodeErrorReason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrUnsupportedVersion):
		return ReasonUnsupportedVersion
	case errors.Is(err, protocol.ErrMalformedMessage):
		return ReasonMalformed
	case errors.Is(err, protocol.ErrValidation):
		return ReasonValidation
	default:
		return ReasonOther
	}
}

// Report is the JSON volume summary
type Report struct {
	MessagesEncoded float64            `json:"messagesEncoded"`
	MessagesDecoded float64            `json:"messagesDecoded"`
	BytesEncoded    float64            `json:"bytesEncoded"`
	BytesDecoded    float64            `json:"bytesDecoded"`
	DecodeErrors    map[string]float64 `json:"decodeErrors"`
	Encrypted       float64            `json:"encrypted"`
	Plaintext       float64            `json:"plaintext"`
}

// Report sums the counters across their labels
func (v *Volume) Report() (*Report, error) {
	families, err := v.registry.Gather()
	if err != nil {
		return nil, err
	}

	report := &Report{DecodeErrors: make(map[string]float64)}
	for _, family := range families {
		for _, m := range family.GetMetric() {
			value := m.GetCounter().GetValue()
			switch family.GetName() {
			case namespace + "_messages_encoded_total":
				report.MessagesEncoded += value
			case namespace + "_messages_decoded_total":
				report.MessagesDecoded += value
			case namespace + "_bytes_encoded_total":
				report.BytesEncoded += value
			case namespace + "_bytes_decoded_total":
				report.BytesDecoded += value
			case namespace + "_decode_errors_total":
				report.DecodeErrors[label(m, "reason")] += value
			case namespace + "_encryption_decisions_total":
				if label(m, "outcome") == "encrypted" {
					report.Encrypted += value
				} else {
					report.Plaintext += value
				}
			}
		}
	}
	return report, nil
}

func label(m *dto.Metric, name string) string {
	for _, pair := range m.GetLabel() {
		if pair.GetName() == name {
			return pair.GetValue()
		}
	}
	return ""
}
