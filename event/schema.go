package event

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Migrator upgrades a payload shaped for fromVersion into one shaped for
// toVersion. Registered per event Type; SchemaRegistry chains consecutive
// Migrators when asked to migrate across more than one minor/major version.
type Migrator func(payload any) (any, error)

// SchemaInfo is one registered (version, json-schema) pair for an event
// Type, plus an optional Migrator that upgrades a payload at this version to
// the next registered version.
type SchemaInfo struct {
	Version  string
	Schema   *jsonschema.Schema
	Migrate  Migrator
}

// Registry validates and migrates event payloads against versioned
// json-schema documents. It is the authority a producer and consumer of the
// same Type implicitly agree on: the producer stamps Envelope.SchemaVersion,
// and the consumer calls Validate (or Migrate, if it only understands an
// older or newer version) before touching Payload.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string][]SchemaInfo // event type -> versions, ascending
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string][]SchemaInfo)}
}

// Register compiles schemaDoc (a json-schema document, as a Go value ready
// for jsonschema's Resource APIs) and adds it as eventType's definition for
// version. Versions must be registered in increasing semver order; Register
// returns an error otherwise, since Migrate relies on ascending order to
// chain upgrades.
func (r *Registry) Register(eventType, version string, schemaDoc map[string]any, migrate Migrator) error {
	if !semverPattern.MatchString(version) {
		return fmt.Errorf("event: schema %s: invalid version %q", eventType, version)
	}
	compiler := jsonschema.NewCompiler()
	resourceURL := fmt.Sprintf("mem://%s/%s.json", eventType, version)
	if err := compiler.AddResource(resourceURL, schemaDoc); err != nil {
		return fmt.Errorf("event: schema %s@%s: add resource: %w", eventType, version, err)
	}
	schema, err := compiler.Compile(resourceURL)
	if err != nil {
		return fmt.Errorf("event: schema %s@%s: compile: %w", eventType, version, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	existing := r.schemas[eventType]
	if len(existing) > 0 {
		last := existing[len(existing)-1].Version
		cmp, err := compareSemver(last, version)
		if err != nil {
			return err
		}
		if cmp >= 0 {
			return fmt.Errorf("event: schema %s: version %q must be greater than already-registered %q", eventType, version, last)
		}
	}
	r.schemas[eventType] = append(existing, SchemaInfo{Version: version, Schema: schema, Migrate: migrate})
	return nil
}

// Validate checks payload (expected to be the result of unmarshalling JSON
// into map[string]any/[]any/primitives, as jsonschema requires) against the
// schema registered for eventType at version. Returns an error if no schema
// is registered for that exact version.
func (r *Registry) Validate(eventType, version string, payload any) error {
	info, ok := r.lookup(eventType, version)
	if !ok {
		return fmt.Errorf("event: no schema registered for %s@%s", eventType, version)
	}
	if err := info.Schema.Validate(payload); err != nil {
		return fmt.Errorf("event: %s@%s: %w", eventType, version, err)
	}
	return nil
}

// IsCompatible reports whether a consumer that understands wantVersion can
// accept a payload stamped haveVersion without migration: true exactly when
// the two share the same major version, whichever of them has the higher
// minor or patch number. Neither version needs to be registered.
func (r *Registry) IsCompatible(haveVersion, wantVersion string) (bool, error) {
	haveMajor, _, _, err := parseSemver(haveVersion)
	if err != nil {
		return false, err
	}
	wantMajor, _, _, err := parseSemver(wantVersion)
	if err != nil {
		return false, err
	}
	return haveMajor == wantMajor, nil
}

// Migrate walks payload forward from fromVersion to toVersion, applying each
// registered Migrator in turn. Returns an error if any intermediate version
// has no Migrator, or if fromVersion/toVersion are not both registered.
func (r *Registry) Migrate(ctx context.Context, eventType, fromVersion, toVersion string, payload any) (any, error) {
	r.mu.RLock()
	versions := append([]SchemaInfo(nil), r.schemas[eventType]...)
	r.mu.RUnlock()
	if len(versions) == 0 {
		return nil, fmt.Errorf("event: no schemas registered for %s", eventType)
	}

	startIdx, endIdx := -1, -1
	for i, v := range versions {
		if v.Version == fromVersion {
			startIdx = i
		}
		if v.Version == toVersion {
			endIdx = i
		}
	}
	if startIdx == -1 {
		return nil, fmt.Errorf("event: %s: unknown source version %q", eventType, fromVersion)
	}
	if endIdx == -1 {
		return nil, fmt.Errorf("event: %s: unknown target version %q", eventType, toVersion)
	}
	if startIdx == endIdx {
		return payload, nil
	}
	if startIdx > endIdx {
		return nil, fmt.Errorf("event: %s: cannot migrate backward from %q to %q", eventType, fromVersion, toVersion)
	}

	cur := payload
	for i := startIdx; i < endIdx; i++ {
		step := versions[i]
		if step.Migrate == nil {
			return nil, fmt.Errorf("event: %s: no migrator registered from %q to %q", eventType, step.Version, versions[i+1].Version)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		migrated, err := step.Migrate(cur)
		if err != nil {
			return nil, fmt.Errorf("event: %s: migrate %s->%s: %w", eventType, step.Version, versions[i+1].Version, err)
		}
		cur = migrated
	}
	return cur, nil
}

// LatestVersion returns the most recently registered version for eventType.
func (r *Registry) LatestVersion(eventType string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions := r.schemas[eventType]
	if len(versions) == 0 {
		return "", false
	}
	return versions[len(versions)-1].Version, true
}

func (r *Registry) lookup(eventType, version string) (SchemaInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, v := range r.schemas[eventType] {
		if v.Version == version {
			return v, true
		}
	}
	return SchemaInfo{}, false
}

func parseSemver(v string) (major, minor, patch int, err error) {
	if !semverPattern.MatchString(v) {
		return 0, 0, 0, fmt.Errorf("event: invalid semver %q", v)
	}
	parts := strings.Split(v, ".")
	major, _ = strconv.Atoi(parts[0])
	minor, _ = strconv.Atoi(parts[1])
	patch, _ = strconv.Atoi(parts[2])
	return major, minor, patch, nil
}

// compareSemver returns -1, 0, or 1 as a is less than, equal to, or greater
// than b.
func compareSemver(a, b string) (int, error) {
	aMaj, aMin, aPatch, err := parseSemver(a)
	if err != nil {
		return 0, err
	}
	bMaj, bMin, bPatch, err := parseSemver(b)
	if err != nil {
		return 0, err
	}
	for _, pair := range [][2]int{{aMaj, bMaj}, {aMin, bMin}, {aPatch, bPatch}} {
		if pair[0] != pair[1] {
			if pair[0] < pair[1] {
				return -1, nil
			}
			return 1, nil
		}
	}
	return 0, nil
}
