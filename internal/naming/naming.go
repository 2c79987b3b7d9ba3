// Package naming implements the four recognised document filename
// shapes as pure functions: generate, parse, validate, and suggest.
// None of it touches the filesystem or the registry.
package naming

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	standardPattern = regexp.MustCompile(
		`^(?P<doctype>[A-Z]+(?:-\d+)?)_` +
			`(?P<subject>[a-z0-9-]+)_` +
			`(?P<date>\d{4}-\d{2}-\d{2})_` +
			`v(?P<version>\d+\.\d+)` +
			`\.(?P<ext>\w+)$`)

	adrPattern = regexp.MustCompile(
		`^ADR-(?P<number>\d+)_` +
			`(?P<subject>[a-z0-9-]+)_` +
			`(?P<date>\d{4}-\d{2}-\d{2})` +
			`\.(?P<ext>\w+)$`)

	postmortemPattern = regexp.MustCompile(
		`^Postmortem_` +
			`(?P<date>\d{4}-\d{2}-\d{2})_` +
			`(?P<subject>[a-z0-9-]+)` +
			`\.(?P<ext>\w+)$`)

	runbookPattern = regexp.MustCompile(
		`^Runbook_` +
			`(?P<subject>[a-z0-9-]+)_` +
			`(?P<date>\d{4}-\d{2}-\d{2})_` +
			`v(?P<version>\d+\.\d+)` +
			`\.(?P<ext>\w+)$`)

	nonSlugChars  = regexp.MustCompile(`[^a-z0-9-]`)
	hyphenRuns    = regexp.MustCompile(`-+`)
	versionHint   = regexp.MustCompile(`v?(\d+\.\d+)`)
	adrNumberHint = regexp.MustCompile(`(?i)ADR[-_]?(\d+)`)
)

// Slug normalises subject into the lowercase [a-z0-9-]+ form used by
// every filename shape: spaces, underscores, and slashes become
// hyphens, disallowed characters are stripped, hyphen runs collapse,
// and leading/trailing hyphens are trimmed.
func Slug(subject string) string {
	s := strings.ToLower(subject)
	s = strings.ReplaceAll(s, " ", "-")
	s = strings.ReplaceAll(s, "_", "-")
	s = strings.ReplaceAll(s, "/", "-")
	s = strings.Trim(s, "-")
	s = nonSlugChars.ReplaceAllString(s, "")
	s = hyphenRuns.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// GenerateOptions carries the optional arguments to Generate.
type GenerateOptions struct {
	Version   string // default "1.0"
	Ext       string // default "md"
	Date      string // YYYY-MM-DD, default today (UTC)
	ADRNumber int    // required when docType is "ADR"; 0 means unset
}

// Generate builds the canonical filename for docType and subject.
// docType is case-insensitive; ADR/POSTMORTEM/RUNBOOK select their
// special-case shapes, anything else uses the standard shape.
func Generate(docType, subject string, opts GenerateOptions) (string, error) {
	version := opts.Version
	if version == "" {
		version = "1.0"
	}
	ext := opts.Ext
	if ext == "" {
		ext = "md"
	}
	date := opts.Date
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}
	slug := Slug(subject)
	upper := strings.ToUpper(docType)

	switch upper {
	case "ADR":
		if opts.ADRNumber <= 0 {
			return "", fmt.Errorf("naming: ADR requires a positive adr_number")
		}
		return fmt.Sprintf("ADR-%03d_%s_%s.%s", opts.ADRNumber, slug, date, ext), nil
	case "POSTMORTEM":
		return fmt.Sprintf("Postmortem_%s_%s.%s", date, slug, ext), nil
	case "RUNBOOK":
		return fmt.Sprintf("Runbook_%s_%s_v%s.%s", slug, date, version, ext), nil
	default:
		return fmt.Sprintf("%s_%s_%s_v%s.%s", upper, slug, date, version, ext), nil
	}
}

// Parsed holds the fields extracted from a compliant filename.
type Parsed struct {
	DocType string
	Subject string
	Date    string
	Version string // empty for ADR and Postmortem shapes
	Ext     string
	Number  string // ADR number, zero-padded as written; empty otherwise
}

// namedGroups maps a regexp's named capture groups to their matched
// values for a single match.
func namedGroups(re *regexp.Regexp, match []string) map[string]string {
	out := make(map[string]string, len(match))
	for i, name := range re.SubexpNames() {
		if i == 0 || name == "" {
			continue
		}
		out[name] = match[i]
	}
	return out
}

// Parse extracts the components of filename, trying the ADR,
// Postmortem, and Runbook shapes before the standard shape. It fails
// if filename matches none of the four.
func Parse(filename string) (Parsed, error) {
	if m := adrPattern.FindStringSubmatch(filename); m != nil {
		g := namedGroups(adrPattern, m)
		return Parsed{DocType: "ADR", Subject: g["subject"], Date: g["date"], Ext: g["ext"], Number: g["number"]}, nil
	}
	if m := postmortemPattern.FindStringSubmatch(filename); m != nil {
		g := namedGroups(postmortemPattern, m)
		return Parsed{DocType: "POSTMORTEM", Subject: g["subject"], Date: g["date"], Ext: g["ext"]}, nil
	}
	if m := runbookPattern.FindStringSubmatch(filename); m != nil {
		g := namedGroups(runbookPattern, m)
		return Parsed{DocType: "RUNBOOK", Subject: g["subject"], Date: g["date"], Version: g["version"], Ext: g["ext"]}, nil
	}
	if m := standardPattern.FindStringSubmatch(filename); m != nil {
		g := namedGroups(standardPattern, m)
		return Parsed{DocType: g["doctype"], Subject: g["subject"], Date: g["date"], Version: g["version"], Ext: g["ext"]}, nil
	}
	return Parsed{}, fmt.Errorf(
		"naming: filename does not match convention: %s\n"+
			"expected one of:\n"+
			"  Standard:   {DocType}_{subject}_{date}_v{version}.{ext}\n"+
			"  ADR:        ADR-{NNN}_{subject}_{date}.{ext}\n"+
			"  Postmortem: Postmortem_{date}_{subject}.{ext}\n"+
			"  Runbook:    Runbook_{subject}_{date}_v{version}.{ext}", filename)
}

// Validate reports whether filename matches one of the four known
// shapes, returning a descriptive error when it does not.
func Validate(filename string) (bool, error) {
	if _, err := Parse(filename); err != nil {
		return false, err
	}
	return true, nil
}

// IsSpecialCase reports whether docType uses one of the three
// special-case shapes rather than the standard one.
func IsSpecialCase(docType string) bool {
	switch strings.ToUpper(docType) {
	case "ADR", "POSTMORTEM", "RUNBOOK":
		return true
	default:
		return false
	}
}

// Suggest repairs a non-compliant currentName into a canonical filename
// for docType and subject, preserving the extension and any version or
// ADR number hints it can recover from currentName.
func Suggest(currentName, docType, subject string) string {
	ext := "md"
	if dot := strings.LastIndex(currentName, "."); dot >= 0 && dot < len(currentName)-1 {
		ext = currentName[dot+1:]
	}

	version := "1.0"
	if m := versionHint.FindStringSubmatch(currentName); m != nil {
		version = m[1]
	}

	if strings.EqualFold(docType, "ADR") {
		if m := adrNumberHint.FindStringSubmatch(currentName); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
				name, err := Generate(docType, subject, GenerateOptions{Version: version, Ext: ext, ADRNumber: n})
				if err == nil {
					return name
				}
			}
		}
		// No recoverable ADR number; fall back to a minimal valid one
		// so Suggest always returns a usable name.
		name, _ := Generate(docType, subject, GenerateOptions{Version: version, Ext: ext, ADRNumber: 1})
		return name
	}

	name, _ := Generate(docType, subject, GenerateOptions{Version: version, Ext: ext})
	return name
}
