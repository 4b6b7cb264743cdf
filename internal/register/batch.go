package register

import (
	"fmt"
	"strings"

	"github.com/jonamat/go-afe-bms/internal/field"
)

// Reading is one decoded field.
type Reading struct {
	Field field.Field
	Value Value
}

// Readings lists decoded fields, gain-dependent ones last.
type Readings []Reading

// Get returns the value decoded for id.
func (rs Readings) Get(id field.ID) (Value, bool) {
	for _, r := range rs {
		if r.Field.ID == id {
			return r.Value, true
		}
	}
	return Value{}, false
}

// FieldError is a decode failure of one field in a batch.
type FieldError struct {
	Field field.ID
	Err   error
}

func (e *FieldError) Error() string { return e.Err.Error() }
func (e *FieldError) Unwrap() error { return e.Err }

// BatchError collects the per-field failures of ReadAll and ReadGroup.
type BatchError struct {
	Errs []*FieldError
}

func (e *BatchError) Error() string {
	msgs := make([]string, len(e.Errs))
	for i, fe := range e.Errs {
		msgs[i] = fe.Error()
	}
	return fmt.Sprintf("%d fields failed: %s", len(e.Errs), strings.Join(msgs, "; "))
}

func (e *BatchError) Unwrap() []error {
	out := make([]error, len(e.Errs))
	for i, fe := range e.Errs {
		out[i] = fe
	}
	return out
}

// Failed reports whether id is among the failures.
func (e *BatchError) Failed(id field.ID) bool {
	for _, fe := range e.Errs {
		if fe.Field == id {
			return true
		}
	}
	return false
}

// ReadAll decodes every field. Fields that fail are reported in a
// *BatchError; the others are still returned.
func (d *Driver) ReadAll() (Readings, error) {
	return d.readBatch(field.All())
}

// ReadGroup decodes the fields of one group.
func (d *Driver) ReadGroup(g field.Group) (Readings, error) {
	return d.readBatch(field.ByGroup(g))
}

// readBatch runs in two phases: the gain and every independent field first,
// then the fields that need the decoded gain.
func (d *Driver) readBatch(fs []field.Field) (Readings, error) {
	var (
		out     Readings
		errs    []*FieldError
		deps    = d.deps()
		gainErr error
		later   []field.Field
	)

	if g, err := d.Gain(); err != nil {
		gainErr = err
	} else {
		deps.Gain = g
	}

	for _, f := range fs {
		if f.DependsOnGain {
			later = append(later, f)
			continue
		}
		v, err := d.decode(f, deps)
		if err != nil {
			errs = append(errs, &FieldError{Field: f.ID, Err: err})
			continue
		}
		out = append(out, Reading{Field: f, Value: v})
	}

	for _, f := range later {
		if gainErr != nil {
			errs = append(errs, &FieldError{Field: f.ID, Err: fmt.Errorf("%s: gain: %w", f.Name, gainErr)})
			continue
		}
		v, err := d.decode(f, deps)
		if err != nil {
			errs = append(errs, &FieldError{Field: f.ID, Err: err})
			continue
		}
		out = append(out, Reading{Field: f, Value: v})
	}

	if len(errs) > 0 {
		return out, &BatchError{Errs: errs}
	}
	return out, nil
}
