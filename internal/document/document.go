// Package document converts job documents from the job index into domain
// jobs and back.
//
// A job document is a JSON object with a single top-level key naming the job
// type, e.g. {"monitor": {...}}.
package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ErlanBelekov/alerting-scheduler/internal/domain"
	"github.com/ErlanBelekov/alerting-scheduler/internal/schedule"
	"github.com/go-playground/validator/v10"
)

var (
	ErrMalformed   = errors.New("malformed job document")
	ErrUnknownType = errors.New("unknown job type")
)

const defaultInputTimeoutSeconds = 30

type decodeFunc func(id string, version int64, body json.RawMessage) (*domain.Job, error)

// Parser decodes documents of the job types registered with it.
type Parser struct {
	decoders map[string]decodeFunc
}

// NewParser returns a Parser that knows every built-in job type.
func NewParser() *Parser {
	p := &Parser{decoders: make(map[string]decodeFunc)}
	p.decoders[domain.JobTypeMonitor] = decodeMonitor
	return p
}

// Types returns the registered job types in sorted order.
func (p *Parser) Types() []string {
	types := make([]string, 0, len(p.decoders))
	for t := range p.decoders {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Sweepable reports whether source is a document of a registered job type.
func (p *Parser) Sweepable(source []byte) bool {
	t, ok := DocType(source)
	if !ok {
		return false
	}
	_, ok = p.decoders[t]
	return ok
}

// Parse decodes source into a job carrying id and version.
func (p *Parser) Parse(id string, version int64, source []byte) (*domain.Job, error) {
	t, ok := DocType(source)
	if !ok {
		return nil, fmt.Errorf("%w: expected a single top-level key", ErrMalformed)
	}
	decode, ok := p.decoders[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}

	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(source, &wrapper); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	job, err := decode(id, version, wrapper[t])
	if err != nil {
		return nil, fmt.Errorf("parse %s %s: %w", t, id, err)
	}
	return job, nil
}

// DocType returns the single top-level key of source.
func DocType(source []byte) (string, bool) {
	dec := json.NewDecoder(bytes.NewReader(source))
	var wrapper map[string]json.RawMessage
	if err := dec.Decode(&wrapper); err != nil || len(wrapper) != 1 {
		return "", false
	}
	for k := range wrapper {
		return k, true
	}
	return "", false
}

// Encode renders job as a document. Version and ID are not part of the source.
func Encode(job *domain.Job) (json.RawMessage, error) {
	switch job.Type {
	case domain.JobTypeMonitor:
		return encodeMonitor(job)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, job.Type)
	}
}

var validate = validator.New()

type monitorDocument struct {
	Name        string          `json:"name"                   validate:"required,max=256"`
	Enabled     bool            `json:"enabled"`
	EnabledTime *int64          `json:"enabled_time,omitempty" validate:"required_if=Enabled true,excluded_if=Enabled false"`
	Schedule    json.RawMessage `json:"schedule"               validate:"required"`
	Inputs      []inputDocument `json:"inputs"                 validate:"required,min=1,dive"`
	Triggers    []triggerDoc    `json:"triggers,omitempty"     validate:"dive"`
}

type inputDocument struct {
	URL            string            `json:"url"                       validate:"required,url"`
	Method         string            `json:"method,omitempty"          validate:"omitempty,oneof=GET POST PUT PATCH DELETE HEAD"`
	Headers        map[string]string `json:"headers,omitempty"`
	Body           *string           `json:"body,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty" validate:"gte=0,lte=300"`
}

type triggerDoc struct {
	Name      string       `json:"name"               validate:"required"`
	Severity  string       `json:"severity,omitempty" validate:"omitempty,oneof=critical high low"`
	Condition conditionDoc `json:"condition"`
}

type conditionDoc struct {
	Field string  `json:"field" validate:"required,oneof=status_code duration_ms error"`
	Op    string  `json:"op"    validate:"required,oneof=gt gte lt lte eq ne"`
	Value float64 `json:"value"`
}

func decodeMonitor(id string, version int64, body json.RawMessage) (*domain.Job, error) {
	var doc monitorDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := validate.Struct(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	sched, err := schedule.Parse(doc.Schedule)
	if err != nil {
		return nil, err
	}

	job := &domain.Job{
		ID:       id,
		Version:  version,
		Type:     domain.JobTypeMonitor,
		Name:     doc.Name,
		Enabled:  doc.Enabled,
		Schedule: sched,
		Monitor:  &domain.Monitor{},
	}
	if doc.EnabledTime != nil {
		t := time.UnixMilli(*doc.EnabledTime).UTC()
		job.EnabledTime = &t
	}
	for _, in := range doc.Inputs {
		method := in.Method
		if method == "" {
			method = "GET"
		}
		timeout := in.TimeoutSeconds
		if timeout == 0 {
			timeout = defaultInputTimeoutSeconds
		}
		job.Monitor.Inputs = append(job.Monitor.Inputs, domain.Input{
			URL:            in.URL,
			Method:         method,
			Headers:        in.Headers,
			Body:           in.Body,
			TimeoutSeconds: timeout,
		})
	}
	for _, tr := range doc.Triggers {
		severity := domain.Severity(tr.Severity)
		if severity == "" {
			severity = domain.SeverityHigh
		}
		job.Monitor.Triggers = append(job.Monitor.Triggers, domain.Trigger{
			Name:     tr.Name,
			Severity: severity,
			Condition: domain.Condition{
				Field: domain.Field(tr.Condition.Field),
				Op:    domain.Op(tr.Condition.Op),
				Value: tr.Condition.Value,
			},
		})
	}
	return job, nil
}

func encodeMonitor(job *domain.Job) (json.RawMessage, error) {
	if job.Monitor == nil {
		return nil, fmt.Errorf("%w: monitor %s has no body", ErrMalformed, job.ID)
	}
	rawSchedule, err := schedule.Marshal(job.Schedule)
	if err != nil {
		return nil, err
	}
	doc := monitorDocument{
		Name:     job.Name,
		Enabled:  job.Enabled,
		Schedule: rawSchedule,
	}
	if job.EnabledTime != nil {
		ms := job.EnabledTime.UnixMilli()
		doc.EnabledTime = &ms
	}
	for _, in := range job.Monitor.Inputs {
		doc.Inputs = append(doc.Inputs, inputDocument{
			URL:            in.URL,
			Method:         in.Method,
			Headers:        in.Headers,
			Body:           in.Body,
			TimeoutSeconds: in.TimeoutSeconds,
		})
	}
	for _, tr := range job.Monitor.Triggers {
		doc.Triggers = append(doc.Triggers, triggerDoc{
			Name:     tr.Name,
			Severity: string(tr.Severity),
			Condition: conditionDoc{
				Field: string(tr.Condition.Field),
				Op:    string(tr.Condition.Op),
				Value: tr.Condition.Value,
			},
		})
	}
	if err := validate.Struct(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return json.Marshal(map[string]monitorDocument{domain.JobTypeMonitor: doc})
}
