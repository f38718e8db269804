package records

import (
	"context"
	"fmt"
	log "log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	cs "callvox/internal/callstate"
)

// Directory is a Store backed by a YAML file. It serves small deployments
// and demos; submitted changes are kept in memory and logged.
type Directory struct {
	mu          sync.Mutex
	employees   []staticEmployee
	providers   map[string]cs.Ref
	occurrences []staticOccurrence
	changes     []cs.Change
	loc         *time.Location
	now         func() time.Time
}

type staticRef struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

type staticEmployee struct {
	ID        string   `yaml:"id"`
	Name      string   `yaml:"name"`
	Phone     string   `yaml:"phone"`
	PIN       string   `yaml:"pin"`
	Providers []string `yaml:"providers"`
}

type staticOccurrence struct {
	ID          string     `yaml:"id"`
	Employee    string     `yaml:"employee"`
	Provider    string     `yaml:"provider"`
	Start       time.Time  `yaml:"start"`
	Display     string     `yaml:"display"`
	JobTemplate *staticRef `yaml:"job_template"`
	Patient     *staticRef `yaml:"patient"`
}

type directoryFile struct {
	Employees   []staticEmployee   `yaml:"employees"`
	Providers   []staticRef        `yaml:"providers"`
	Occurrences []staticOccurrence `yaml:"occurrences"`
}

func LoadDirectory(path string, loc *time.Location) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}
	return ParseDirectory(data, loc)
}

func ParseDirectory(data []byte, loc *time.Location) (*Directory, error) {
	var f directoryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse directory: %w", err)
	}
	if loc == nil {
		loc = time.UTC
	}

	d := &Directory{
		employees:   f.Employees,
		providers:   make(map[string]cs.Ref, len(f.Providers)),
		occurrences: f.Occurrences,
		loc:         loc,
		now:         time.Now,
	}
	for _, p := range f.Providers {
		d.providers[p.ID] = cs.Ref{ID: p.ID, Display: p.Name}
	}
	for _, e := range f.Employees {
		for _, p := range e.Providers {
			if _, ok := d.providers[p]; !ok {
				return nil, fmt.Errorf("employee %s: unknown provider %q", e.ID, p)
			}
		}
	}
	sort.SliceStable(d.occurrences, func(i, j int) bool {
		return d.occurrences[i].Start.Before(d.occurrences[j].Start)
	})
	return d, nil
}

// WithClock returns d reading the time from now.
func (d *Directory) WithClock(now func() time.Time) *Directory {
	d.now = now
	return d
}

func (d *Directory) EmployeeByPhone(_ context.Context, phone string) (Employee, error) {
	return d.find(func(e staticEmployee) bool { return e.Phone != "" && e.Phone == phone })
}

func (d *Directory) EmployeeByPIN(_ context.Context, pin string) (Employee, error) {
	return d.find(func(e staticEmployee) bool { return e.PIN != "" && e.PIN == pin })
}

func (d *Directory) find(match func(staticEmployee) bool) (Employee, error) {
	for _, e := range d.employees {
		if !match(e) {
			continue
		}
		out := Employee{Ref: cs.Ref{ID: e.ID, Display: e.Name}}
		for _, p := range e.Providers {
			out.Providers = append(out.Providers, d.providers[p])
		}
		return out, nil
	}
	return Employee{}, ErrNotFound
}

func (d *Directory) Occurrences(_ context.Context, employeeID, providerID string) ([]cs.Occurrence, error) {
	now := d.now()
	var out []cs.Occurrence
	for _, o := range d.occurrences {
		if o.Employee != employeeID || o.Provider != providerID || !o.Start.After(now) {
			continue
		}
		occ := cs.Occurrence{
			ID:          o.ID,
			Display:     o.Display,
			Start:       o.Start,
			JobTemplate: o.JobTemplate.ref(),
			Patient:     o.Patient.ref(),
		}
		if occ.Display == "" {
			occ.Display = spokenStart(o.Start.In(d.loc))
		}
		out = append(out, occ)
	}
	return out, nil
}

func (d *Directory) SubmitChange(_ context.Context, c cs.Change) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, o := range d.occurrences {
		if o.ID == c.OccurrenceID {
			d.changes = append(d.changes, c)
			log.Info("Change recorded", "kind", c.Kind, "occurrence", c.OccurrenceID, "employee", c.EmployeeID)
			return nil
		}
	}
	return ErrNotFound
}

// Changes returns the changes submitted so far.
func (d *Directory) Changes() []cs.Change {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]cs.Change(nil), d.changes...)
}

func (r *staticRef) ref() *cs.Ref {
	if r == nil {
		return nil
	}
	return &cs.Ref{ID: r.ID, Display: r.Name}
}

// spokenStart reads like "Thursday, March 5 at 8 AM".
func spokenStart(t time.Time) string {
	if t.Minute() == 0 {
		return t.Format("Monday, January 2 at 3 PM")
	}
	return t.Format("Monday, January 2 at 3:04 PM")
}
