// internal/reporting/sarif_reporter.go
package reporting

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-sast/internal/findings"
	"github.com/xkilldash9x/scalpel-sast/internal/observability"
	"github.com/xkilldash9x/scalpel-sast/internal/reporting/sarif"
	"github.com/xkilldash9x/scalpel-sast/internal/uast"
)

// Constants for tool identification in the SARIF report.
const (
	ToolName     = "Scalpel SAST"
	ToolInfoURI  = "https://github.com/xkilldash9x/scalpel-sast"
	SARIFVersion = "2.1.0"
	SARIFSchema  = "https://schemastore.azurewebsites.net/schemas/json/sarif-2.1.0-rtm.5.json"

	// flowFingerprintKey names the partial fingerprint that identifies a flow across runs.
	flowFingerprintKey = "scalpelFlow/v1"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ruleIDSanitizer replaces characters not typically safe or allowed in SARIF Rule IDs.
// Alphanumerics, underscore and dot are kept; every other run collapses to one hyphen.
var ruleIDSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_.]+`)

// RuleFingerprint is used to uniquely identify a rule definition based on its content.
type RuleFingerprint string

// calculateFingerprint hashes the defining characteristics of the rule that produced f.
func calculateFingerprint(f findings.Finding) RuleFingerprint {
	data := struct {
		RuleID string
		Kind   string
		Label  string
	}{
		RuleID: f.RuleID,
		Kind:   f.Kind,
		Label:  f.Label,
	}
	h := sha1.New()
	// Encoding errors are highly unlikely for this simple struct.
	_ = json.NewEncoder(h).Encode(data)
	return RuleFingerprint(hex.EncodeToString(h.Sum(nil)))
}

func flowFingerprint(f findings.Finding) string {
	sum := sha1.Sum([]byte(f.Key()))
	return hex.EncodeToString(sum[:])
}

// SARIFReporter implements the Reporter interface for the SARIF 2.1.0 format.
// It is thread safe.
type SARIFReporter struct {
	writer io.WriteCloser
	logger *zap.Logger
	log    *sarif.Log
	// mu protects the log structure and the maps.
	mu sync.Mutex
	// rulesByFingerprint maps a content fingerprint to the generated Rule ID.
	rulesByFingerprint map[RuleFingerprint]string
	// ruleIDUsage tracks how many times a base Rule ID has been used, to handle collisions.
	ruleIDUsage map[string]int
}

// NewSARIFReporter creates a new reporter that writes SARIF output.
func NewSARIFReporter(writer io.WriteCloser, toolVersion string) *SARIFReporter {
	logger := observability.GetLogger().Named("sarif_reporter")
	log := &sarif.Log{
		Version: SARIFVersion,
		Schema:  SARIFSchema,
		Runs: []*sarif.Run{
			{
				Tool: &sarif.Tool{
					Driver: &sarif.ToolComponent{
						Name:           ToolName,
						Version:        pString(toolVersion),
						InformationURI: pString(ToolInfoURI),
						// Initialize empty slices (not nil) for proper JSON marshalling
						Rules: []*sarif.ReportingDescriptor{},
					},
				},
				Results: []*sarif.Result{},
			},
		},
	}

	return &SARIFReporter{
		writer:             writer,
		logger:             logger,
		log:                log,
		rulesByFingerprint: make(map[RuleFingerprint]string),
		ruleIDUsage:        make(map[string]int),
	}
}

// Write converts findings into SARIF results and adds them to the log.
func (r *SARIFReporter) Write(fs []findings.Finding) error {
	startTime := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	run := r.log.Runs[0]
	for _, f := range fs {
		ruleID := r.ensureRule(f)
		result := &sarif.Result{
			RuleID:              ruleID,
			Message:             &sarif.Message{Text: pString(f.Message())},
			Level:               describe(f.Kind).Level,
			Locations:           []*sarif.Location{newLocation(f.Sink, "Tainted data reaches "+f.SinkName)},
			PartialFingerprints: map[string]string{flowFingerprintKey: flowFingerprint(f)},
			Properties: &sarif.PropertyBag{
				"entryPoint": f.EntryPoint,
				"tags":       f.Tags,
				"findingId":  f.ID.String(),
			},
		}
		if flow := codeFlow(f); flow != nil {
			result.CodeFlows = []*sarif.CodeFlow{flow}
		}
		run.Results = append(run.Results, result)
	}

	if len(fs) > 0 {
		r.logger.Debug("Wrote findings to SARIF buffer",
			zap.Int("findings_count", len(fs)),
			zap.Duration("duration_ms", time.Since(startTime)),
		)
	}
	return nil
}

// Close finalizes the SARIF log and writes it to the output writer.
func (r *SARIFReporter) Close() error {
	startTime := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	var resultsCount, rulesCount int
	if len(r.log.Runs) > 0 && r.log.Runs[0] != nil {
		resultsCount = len(r.log.Runs[0].Results)
		if r.log.Runs[0].Tool != nil && r.log.Runs[0].Tool.Driver != nil {
			rulesCount = len(r.log.Runs[0].Tool.Driver.Rules)
		}
	}

	r.logger.Info("Finalizing SARIF report",
		zap.Int("total_results", resultsCount),
		zap.Int("total_rules", rulesCount),
	)

	encoder := json.NewEncoder(r.writer)
	encoder.SetIndent("", "  ")

	encodeErr := encoder.Encode(r.log)
	// Always attempt to close the writer, regardless of encoding success.
	closeErr := r.writer.Close()

	if encodeErr != nil {
		r.logger.Error("Failed to encode SARIF log to JSON", zap.Error(encodeErr))
		return fmt.Errorf("failed to encode SARIF output: %w", encodeErr)
	}
	if closeErr != nil {
		r.logger.Error("Failed to close output writer", zap.Error(closeErr))
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}

	r.logger.Info("Successfully wrote SARIF report",
		zap.Duration("duration_ms", time.Since(startTime)),
	)
	return nil
}

// sanitizeRuleName creates a standardized base name for the rule ID.
func (r *SARIFReporter) sanitizeRuleName(name string) string {
	if name == "" {
		return "UNNAMED-FLOW"
	}
	sanitizedName := strings.ToUpper(name)
	sanitizedName = ruleIDSanitizer.ReplaceAllString(sanitizedName, "-")
	sanitizedName = strings.Trim(sanitizedName, "-")
	if sanitizedName == "" {
		return "UNKNOWN-FLOW"
	}
	return sanitizedName
}

// ensureRule ensures a unique rule definition exists for the finding and returns its ID.
// NOTE: Must be called while holding the mutex.
func (r *SARIFReporter) ensureRule(f findings.Finding) string {
	fingerprint := calculateFingerprint(f)
	if ruleID, exists := r.rulesByFingerprint[fingerprint]; exists {
		return ruleID
	}

	base := f.RuleID
	if base == "" {
		base = f.Label
	}
	baseRuleID := "SCALPEL-" + r.sanitizeRuleName(base)

	usageCount := r.ruleIDUsage[baseRuleID]
	r.ruleIDUsage[baseRuleID] = usageCount + 1

	finalRuleID := baseRuleID
	if usageCount > 0 {
		finalRuleID = fmt.Sprintf("%s-%d", baseRuleID, usageCount)
		r.logger.Debug("Rule ID collision detected, generated new ID with suffix",
			zap.String("base_id", baseRuleID),
			zap.String("final_id", finalRuleID),
		)
	}
	r.logger.Debug("Registering new SARIF rule definition", zap.String("rule_id", finalRuleID))

	vuln := describe(f.Kind)
	name := f.Label
	if name == "" {
		name = vuln.Name
	}
	markdownHelp := fmt.Sprintf("**Vulnerability:** %s\n\n**Description:**\n%s\n\n**Recommendation:**\n%s",
		name, vuln.Description, vuln.Recommendation)

	driver := r.log.Runs[0].Tool.Driver
	driver.Rules = append(driver.Rules, &sarif.ReportingDescriptor{
		ID:               finalRuleID,
		Name:             pString(name),
		ShortDescription: &sarif.MultiformatMessageString{Text: pString(name)},
		FullDescription:  &sarif.MultiformatMessageString{Text: pString(vuln.Description)},
		Help: &sarif.MultiformatMessageString{
			Text:     pString(vuln.Recommendation),
			Markdown: pString(markdownHelp),
		},
		Properties: &sarif.PropertyBag{
			"tags":      []string{"security", "scalpel", f.Kind},
			"precision": "medium",
			"CWE":       vuln.CWE,
		},
	})
	r.rulesByFingerprint[fingerprint] = finalRuleID
	return finalRuleID
}

func newLocation(loc uast.Location, text string) *sarif.Location {
	l := &sarif.Location{
		PhysicalLocation: &sarif.PhysicalLocation{
			ArtifactLocation: &sarif.ArtifactLocation{URI: pString(loc.File)},
		},
	}
	if loc.StartLine > 0 {
		region := &sarif.Region{
			StartLine:   loc.StartLine,
			StartColumn: loc.StartCol,
			EndLine:     loc.EndLine,
			EndColumn:   loc.EndCol,
		}
		if loc.Snippet != "" {
			region.Snippet = &sarif.Message{Text: pString(loc.Snippet)}
		}
		l.PhysicalLocation.Region = region
	}
	if text != "" {
		l.Message = &sarif.Message{Text: pString(text)}
	}
	return l
}

// codeFlow renders the trace as a single thread flow, skipping steps without a position.
func codeFlow(f findings.Finding) *sarif.CodeFlow {
	var steps []*sarif.ThreadFlowLocation
	for _, step := range f.Trace {
		if step.Location.IsZero() {
			continue
		}
		steps = append(steps, &sarif.ThreadFlowLocation{
			Location: newLocation(step.Location, step.Role),
			Kinds:    []string{step.Role},
		})
	}
	if len(steps) == 0 {
		return nil
	}
	return &sarif.CodeFlow{ThreadFlows: []*sarif.ThreadFlow{{Locations: steps}}}
}

// pString returns a pointer to the given string value. Helper for optional SARIF fields.
func pString(s string) *string {
	return &s
}
