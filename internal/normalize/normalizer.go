// Package normalize turns raw vision-model output into typed, schema-resolved
// candidate values. Raw strings are resolved, parsed, and unit-normalized
// here; nothing downstream ever sees an unvalidated string.
package normalize

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/agext/levenshtein"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"

	"github.com/clinbridge/edcfill/internal/model"
)

// Anomaly records an observation that could not become a candidate. Anomalies
// never abort a run; they are logged and surfaced in the run report.
type Anomaly struct {
	DocumentID string `json:"document_id"`
	Key        string `json:"key"`
	Value      string `json:"value"`
	Reason     string `json:"reason"`
}

// Result is the output of one normalization pass.
type Result struct {
	Candidates []model.Candidate `json:"candidates"`
	Anomalies  []Anomaly         `json:"anomalies,omitempty"`
}

// Normalizer resolves raw key/value observations against the field registry.
// Stateless per run; safe for concurrent use.
type Normalizer struct {
	registry    *model.Registry
	lookup      map[string]string // canonical key → field_id
	keys        []string          // sorted canonical keys, for deterministic fuzzy matching
	threshold   float64
	concurrency int
}

// New builds a Normalizer over the registry and alias table (alias → field_id).
// Aliases targeting fields the schema does not declare are ignored: they can
// never produce a valid candidate.
func New(registry *model.Registry, aliases map[string]string, similarityThreshold float64, concurrency int) *Normalizer {
	n := &Normalizer{
		registry:    registry,
		lookup:      make(map[string]string),
		threshold:   similarityThreshold,
		concurrency: concurrency,
	}
	if n.threshold <= 0 {
		n.threshold = 0.80
	}
	if n.concurrency <= 0 {
		n.concurrency = 1
	}
	for _, spec := range registry.Fields() {
		n.lookup[canonicalKey(spec.FieldID)] = spec.FieldID
	}
	for alias, fieldID := range aliases {
		if registry.ByID(fieldID) == nil {
			continue
		}
		key := canonicalKey(alias)
		if _, taken := n.lookup[key]; !taken {
			n.lookup[key] = fieldID
		}
	}
	n.keys = make([]string, 0, len(n.lookup))
	for k := range n.lookup {
		n.keys = append(n.keys, k)
	}
	sort.Strings(n.keys)
	return n
}

// Normalize processes all observations for a run. Documents are normalized
// concurrently (bounded workers); the combined output is ordered by document
// ID and then input order, so identical input always yields identical output.
func (n *Normalizer) Normalize(ctx context.Context, observations []model.RawObservation) (Result, error) {
	byDoc := make(map[string][]model.RawObservation)
	docIDs := make([]string, 0)
	for _, obs := range observations {
		if _, seen := byDoc[obs.DocumentID]; !seen {
			docIDs = append(docIDs, obs.DocumentID)
		}
		byDoc[obs.DocumentID] = append(byDoc[obs.DocumentID], obs)
	}
	sort.Strings(docIDs)

	results := make([]Result, len(docIDs))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(n.concurrency)
	for i, docID := range docIDs {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			results[i] = n.NormalizeDocument(docID, byDoc[docID])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	var out Result
	for _, r := range results {
		out.Candidates = append(out.Candidates, r.Candidates...)
		out.Anomalies = append(out.Anomalies, r.Anomalies...)
	}
	return out, nil
}

// NormalizeDocument runs the resolve → parse → unit-normalize pipeline over
// one document's observations. One pass, restartable: the same input always
// produces the same candidates.
func (n *Normalizer) NormalizeDocument(docID string, observations []model.RawObservation) Result {
	var res Result
	for _, obs := range observations {
		cands, anomaly := n.normalizeOne(obs)
		if anomaly != nil {
			zap.L().Warn("normalize: dropped observation",
				zap.String("document_id", anomaly.DocumentID),
				zap.String("key", anomaly.Key),
				zap.String("reason", anomaly.Reason),
			)
			res.Anomalies = append(res.Anomalies, *anomaly)
			continue
		}
		res.Candidates = append(res.Candidates, cands...)
	}
	return res
}

var bpCompositeRe = regexp.MustCompile(`^\s*(\d+(?:\.\d+)?)\s*/\s*(\d+(?:\.\d+)?)\s*$`)

func (n *Normalizer) normalizeOne(obs model.RawObservation) ([]model.Candidate, *Anomaly) {
	key := canonicalKey(obs.Key)

	// Composite blood-pressure readings ("118/76") split into the systolic
	// and diastolic fields when the schema declares both.
	if isBloodPressureKey(key) {
		if m := bpCompositeRe.FindStringSubmatch(stripUnitSuffix(obs.Value)); m != nil {
			if cands := n.splitBloodPressure(obs, m[1], m[2]); cands != nil {
				return cands, nil
			}
		}
	}

	fieldID, ok := n.resolveKey(key)
	if !ok {
		return nil, &Anomaly{DocumentID: obs.DocumentID, Key: obs.Key, Value: obs.Value, Reason: "unresolved key"}
	}
	spec := n.registry.ByID(fieldID)

	cand, reason := buildCandidate(spec, obs, fieldID, obs.Value, obs.Unit)
	if reason != "" {
		return nil, &Anomaly{DocumentID: obs.DocumentID, Key: obs.Key, Value: obs.Value, Reason: reason}
	}
	return []model.Candidate{cand}, nil
}

// resolveKey maps a canonical observation key to a declared field_id:
// exact match first, then best fuzzy match at or above the threshold.
func (n *Normalizer) resolveKey(key string) (string, bool) {
	if id, ok := n.lookup[key]; ok {
		return id, true
	}
	bestScore := 0.0
	bestID := ""
	for _, k := range n.keys {
		score := levenshtein.Match(key, k, nil)
		if score > bestScore {
			bestScore = score
			bestID = n.lookup[k]
		}
	}
	if bestScore >= n.threshold {
		return bestID, true
	}
	return "", false
}

func (n *Normalizer) splitBloodPressure(obs model.RawObservation, systolic, diastolic string) []model.Candidate {
	sys := n.registry.ByID("systolic_bp")
	dia := n.registry.ByID("diastolic_bp")
	if sys == nil || dia == nil {
		return nil
	}
	sysCand, sysReason := buildCandidate(sys, obs, sys.FieldID, systolic, obs.Unit)
	diaCand, diaReason := buildCandidate(dia, obs, dia.FieldID, diastolic, obs.Unit)
	if sysReason != "" || diaReason != "" {
		return nil
	}
	return []model.Candidate{sysCand, diaCand}
}

// buildCandidate parses the raw value into the field's declared type and
// normalizes units. Returns a non-empty reason on parse failure.
func buildCandidate(spec *model.FieldSpec, obs model.RawObservation, fieldID, rawValue, rawUnit string) (model.Candidate, string) {
	cand := model.Candidate{
		FieldID:    fieldID,
		RawKey:     obs.Key,
		RawValue:   obs.Value,
		Confidence: obs.Confidence,
		Span: model.SourceSpan{
			DocumentID: obs.DocumentID,
			Page:       obs.Page,
			Region:     obs.Region,
		},
	}

	switch spec.DataType {
	case model.TypeNumeric:
		num, inlineUnit, ok := parseNumeric(rawValue)
		if !ok {
			return cand, "unparseable numeric value"
		}
		unit := rawUnit
		if unit == "" {
			unit = inlineUnit
		}
		cand.Unit = unit
		if spec.Unit != "" && unit != "" {
			converted, known := convertUnit(num, unit, spec.Unit)
			if known {
				num = converted
				cand.Unit = spec.Unit
			} else {
				cand.UnitUnresolved = true
			}
		}
		cand.Value = model.NumberValue(num)

	case model.TypeDate:
		t, ok := parseDate(rawValue)
		if !ok {
			return cand, "unparseable date value"
		}
		cand.Value = model.DateValue(t)

	case model.TypeEnum:
		v, ok := matchEnum(rawValue, spec.EnumValues)
		if !ok {
			return cand, "value not in enum"
		}
		cand.Value = model.EnumValue(v)

	default:
		s := strings.TrimSpace(rawValue)
		if s == "" {
			return cand, "empty text value"
		}
		cand.Value = model.TextValue(s)
	}

	return cand, ""
}

var numericRe = regexp.MustCompile(`^\s*(-?\d+(?:,\d{3})*(?:\.\d+)?)\s*(.*?)\s*$`)

// parseNumeric extracts a leading numeric token and any trailing inline unit
// ("118 mmHg" → 118, "mmHg").
func parseNumeric(s string) (float64, string, bool) {
	m := numericRe.FindStringSubmatch(s)
	if m == nil {
		return 0, "", false
	}
	num, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return 0, "", false
	}
	return num, m[2], true
}

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04:05",
	"01/02/2006",
	"1/2/2006",
	"Jan 2, 2006",
	"Jan 2 2006",
	"2 Jan 2006",
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// matchEnum resolves a raw string against the declared enum values:
// case-insensitive exact match first, then single-letter flag matching so
// "HIGH"/"High" satisfies an "H" flag enum.
func matchEnum(raw string, values []string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}
	for _, v := range values {
		if strings.EqualFold(s, v) {
			return v, true
		}
	}
	for _, v := range values {
		if len(v) == 1 && strings.EqualFold(s[:1], v) {
			return v, true
		}
	}
	return "", false
}

var keySeparatorRe = regexp.MustCompile(`[\s_\-./]+`)

// canonicalKey folds a raw key or field_id into the canonical matching form:
// NFKC-normalized, lowercased, separators collapsed to single spaces.
func canonicalKey(s string) string {
	s = norm.NFKC.String(s)
	s = strings.ToLower(strings.TrimSpace(s))
	s = keySeparatorRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func isBloodPressureKey(canonical string) bool {
	switch canonical {
	case "bp", "blood pressure", "b p":
		return true
	}
	return false
}

// stripUnitSuffix removes a trailing alphabetic unit from a composite value
// ("118/76 mmHg" → "118/76").
func stripUnitSuffix(s string) string {
	s = strings.TrimSpace(s)
	i := len(s)
	for i > 0 {
		c := s[i-1]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == ' ' {
			i--
			continue
		}
		break
	}
	return strings.TrimSpace(s[:i])
}
