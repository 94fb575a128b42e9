package enrich

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	apperrors "github.com/evidify/evidify-cli/pkg/errors"
)

// structuredPreamble is appended to every analysis prompt so responses can be
// parsed mechanically.
const structuredPreamble = `

Respond in exactly this format:
RELEVANCE: <0-100>
PRIVILEGE_RISK: <0-100>
CLASSIFICATION: <relevant|not-relevant|needs-review>
KEY FINDINGS:
- <bullet points>
ANALYSIS: <your full analysis>`

// DefaultAnalysisPrompt is used when a job supplies no prompt of its own.
const DefaultAnalysisPrompt = "You are a legal e-discovery analyst. " +
	"Assess the following document for responsiveness to the matter and " +
	"for attorney-client privilege risk."

// Classification values written to ai_analysis.
const (
	ClassificationRelevant    = "relevant"
	ClassificationNotRelevant = "not-relevant"
	ClassificationNeedsReview = "needs-review"
)

// AnalysisResult is one parsed enrichment verdict. RawResponse always holds
// the complete model response; Analysis holds the extracted ANALYSIS section
// when the response parsed.
type AnalysisResult struct {
	DocumentID     string
	RelevanceScore int
	PrivilegeRisk  int
	Classification string
	KeyFindings    string
	Analysis       string
	RawResponse    string
	Topics         []string
	ParseFailed    bool
}

// Redaction is the outcome of a redaction-mode second pass. Redactions live
// in the job record only; the canonical document is never rewritten.
type Redaction struct {
	DocumentID      string
	Summary         string
	RedactedSubject string
	RedactedBody    string
}

var (
	relevanceRe      = regexp.MustCompile(`(?im)^\s*RELEVANCE:\s*(\d{1,3})`)
	privilegeRe      = regexp.MustCompile(`(?im)^\s*PRIVILEGE_RISK:\s*(\d{1,3})`)
	classificationRe = regexp.MustCompile(`(?im)^\s*CLASSIFICATION:\s*(relevant|not-relevant|needs-review)`)
	keyFindingsRe    = regexp.MustCompile(`(?ims)^\s*KEY FINDINGS:\s*(.*?)(?:^\s*ANALYSIS:|\z)`)
	analysisRe       = regexp.MustCompile(`(?ims)^\s*ANALYSIS:\s*(.*)\z`)

	redactionSummaryRe = regexp.MustCompile(`(?ims)^\s*REDACTION_SUMMARY:\s*(.*?)(?:^\s*REDACTED_SUBJECT:|\z)`)
	redactedSubjectRe  = regexp.MustCompile(`(?im)^\s*REDACTED_SUBJECT:\s*(.*)$`)
	redactedBodyRe     = regexp.MustCompile(`(?ims)^\s*REDACTED_BODY:\s*(.*)\z`)
)

// topicRules maps response keywords to topic labels.
var topicRules = []struct {
	pattern *regexp.Regexp
	topic   string
}{
	{regexp.MustCompile(`(?i)fraud`), "Financial Fraud"},
	{regexp.MustCompile(`(?i)privilege|attorney`), "Attorney-Client"},
	{regexp.MustCompile(`(?i)compliance|regulatory`), "Compliance"},
}

// ParseAnalysis extracts the structured fields from an LLM response. Missing
// fields fall back to defaults (relevance 50, privilege risk 0,
// classification needs-review); a response matching no field at all is
// flagged as a parse failure and its full text becomes the analysis, so
// reviewers still see what the model said. The returned error wraps
// ErrLLMParse on total failure but the result remains usable.
func ParseAnalysis(documentID, response string) (AnalysisResult, error) {
	result := AnalysisResult{
		DocumentID:     documentID,
		RelevanceScore: 50,
		PrivilegeRisk:  0,
		Classification: ClassificationNeedsReview,
		Analysis:       strings.TrimSpace(response),
		RawResponse:    strings.TrimSpace(response),
	}

	matched := false

	if m := relevanceRe.FindStringSubmatch(response); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil && v <= 100 {
			result.RelevanceScore = v
			matched = true
		}
	}
	if m := privilegeRe.FindStringSubmatch(response); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil && v <= 100 {
			result.PrivilegeRisk = v
			matched = true
		}
	}
	if m := classificationRe.FindStringSubmatch(response); m != nil {
		result.Classification = strings.ToLower(m[1])
		matched = true
	}
	if m := keyFindingsRe.FindStringSubmatch(response); m != nil {
		result.KeyFindings = strings.TrimSpace(m[1])
		matched = true
	}
	if m := analysisRe.FindStringSubmatch(response); m != nil {
		result.Analysis = strings.TrimSpace(m[1])
		matched = true
	}

	result.Topics = deriveTopics(response)

	if !matched {
		result.ParseFailed = true
		return result, fmt.Errorf("%w: response matched no structured field", apperrors.ErrLLMParse)
	}
	return result, nil
}

// ParseRedaction extracts the redaction fields from a second-pass response.
func ParseRedaction(documentID, response string) Redaction {
	r := Redaction{DocumentID: documentID}
	if m := redactionSummaryRe.FindStringSubmatch(response); m != nil {
		r.Summary = strings.TrimSpace(m[1])
	}
	if m := redactedSubjectRe.FindStringSubmatch(response); m != nil {
		r.RedactedSubject = strings.TrimSpace(m[1])
	}
	if m := redactedBodyRe.FindStringSubmatch(response); m != nil {
		r.RedactedBody = strings.TrimSpace(m[1])
	}
	return r
}

func deriveTopics(response string) []string {
	var topics []string
	for _, rule := range topicRules {
		if rule.pattern.MatchString(response) {
			topics = append(topics, rule.topic)
		}
	}
	return topics
}

// DeriveTags computes the tag set written for one analysis result:
// a classification tag, a priority tag from the relevance thresholds
// (70 high, 40 medium), and one tag per derived topic.
func DeriveTags(result AnalysisResult) []string {
	var tags []string

	switch result.Classification {
	case ClassificationRelevant:
		tags = append(tags, "AI: Relevant")
	case ClassificationNotRelevant:
		tags = append(tags, "AI: Not Relevant")
	default:
		tags = append(tags, "AI: Needs Review")
	}

	switch {
	case result.RelevanceScore >= 70:
		tags = append(tags, "High Priority")
	case result.RelevanceScore >= 40:
		tags = append(tags, "Medium Priority")
	default:
		tags = append(tags, "Low Priority")
	}

	tags = append(tags, result.Topics...)
	return tags
}

// BuildAnalysisPrompt composes the system prompt for one job.
func BuildAnalysisPrompt(userPrompt string) string {
	if userPrompt == "" {
		userPrompt = DefaultAnalysisPrompt
	}
	return userPrompt + structuredPreamble
}

// BuildDocumentContent renders the document text handed to the model.
func BuildDocumentContent(subject, custodian, body string) string {
	content := fmt.Sprintf("Subject: %s\n\nFrom: %s\n\n%s", subject, custodian, body)
	if len(content) > maxEmbeddingTextLen {
		content = content[:maxEmbeddingTextLen]
	}
	return content
}
