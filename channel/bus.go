package channel

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"

	"github.com/contentwire/contentwire/cfg"
)

// binding pairs a sink with its wire format, subject prefix, and model filter.
type binding struct {
	name        string
	sink        Sink
	transformer Transformer
	filter      Filter
	prefix      string
}

// Bus fans one emission out to every configured sink. Publish failures are
// logged and never retried: a missed emission is an acceptable degraded
// outcome, a blocked writer is not.
type Bus struct {
	bindings []binding
}

// NewBus builds a bus from sink configurations. All-or-nothing: a single
// bad sink configuration fails construction and closes the sinks already
// opened.
func NewBus(configs []cfg.SinkConfiguration) (*Bus, error) {
	bus := &Bus{bindings: make([]binding, 0, len(configs))}

	for _, config := range configs {
		snk, err := createSink(config)
		if err != nil {
			bus.Close()
			return nil, fmt.Errorf("failed to create sink %q: %w", config.Name, err)
		}

		trans, err := createTransformer(config.Format)
		if err != nil {
			snk.Close()
			bus.Close()
			return nil, fmt.Errorf("failed to create transformer for sink %q: %w", config.Name, err)
		}

		filter, err := NewGlobFilter(config.FilterModels)
		if err != nil {
			snk.Close()
			bus.Close()
			return nil, fmt.Errorf("failed to create filter for sink %q: %w", config.Name, err)
		}

		bus.bindings = append(bus.bindings, binding{
			name:        config.Name,
			sink:        snk,
			transformer: trans,
			filter:      filter,
			prefix:      config.SubjectPrefix,
		})

		log.Info().
			Str("sink", config.Name).
			Str("type", config.Type).
			Str("format", config.Format).
			Msg("Added channel sink")
	}

	return bus, nil
}

// Publish encodes the payload once per sink format and delivers it to every
// sink whose filter matches the subject's model. Returns the joined delivery
// errors; callers treat delivery as fire-and-forget and only log them.
func (b *Bus) Publish(subject string, payload any) error {
	model := modelFromSubject(subject)
	key := messageKey(subject, payload)

	var errs []error
	for _, bind := range b.bindings {
		if !bind.filter.Match(model) {
			continue
		}

		data, err := bind.transformer.Encode(payload)
		if err != nil {
			log.Error().Err(err).Str("sink", bind.name).Str("subject", subject).Msg("Failed to encode payload")
			errs = append(errs, err)
			continue
		}

		topic := subject
		if bind.prefix != "" {
			topic = bind.prefix + "." + subject
		}

		if err := bind.sink.Publish(topic, key, data); err != nil {
			log.Error().Err(err).Str("sink", bind.name).Str("subject", subject).Msg("Failed to publish emission")
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Close closes all sinks.
func (b *Bus) Close() error {
	var errs []error
	for _, bind := range b.bindings {
		if err := bind.sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	b.bindings = nil
	return errors.Join(errs...)
}

// modelFromSubject extracts the singular model name from a
// "<singular>:<action>" subject.
func modelFromSubject(subject string) string {
	if i := strings.IndexByte(subject, ':'); i >= 0 {
		return subject[:i]
	}
	return subject
}

// messageKey derives a stable partition key from the subject and the
// payload's document identity, so emissions for the same record land on the
// same Kafka partition.
func messageKey(subject string, payload any) string {
	id := documentIdentity(payload)
	return fmt.Sprintf("%016x", xxhash.Sum64String(subject+"/"+id))
}

func documentIdentity(payload any) string {
	switch v := payload.(type) {
	case Envelope:
		if data, ok := v.Data.(map[string]any); ok {
			return identityFromRecord(data)
		}
	case map[string]any:
		return identityFromRecord(v)
	}
	return ""
}

func identityFromRecord(record map[string]any) string {
	if id, ok := record["documentId"].(string); ok && id != "" {
		return id
	}
	if id, ok := record["id"]; ok {
		return fmt.Sprint(id)
	}
	return ""
}
