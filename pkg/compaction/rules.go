package compaction

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"ctxkeep/pkg/logger"
	"ctxkeep/pkg/session"
)

//go:embed rules.yaml
var defaultRulesYAML []byte

// Kind names a detection rule type. It doubles as the recorded trigger.
type Kind string

const (
	KindPhrase         Kind = "phrase"
	KindRepeatedSystem Kind = "repeated_system"
	KindContextLimit   Kind = "context_limit"
)

// Rule is one entry of the rules document.
type Rule struct {
	Kind     Kind     `yaml:"kind"`
	Patterns []string `yaml:"patterns,omitempty"`
	// Head and MinMessages apply to repeated_system: the incoming hash must
	// appear in the first Head records, and the session counting the
	// incoming message must exceed MinMessages.
	Head        int `yaml:"head,omitempty"`
	MinMessages int `yaml:"min_messages,omitempty"`

	phrases []string
	regexps []*regexp.Regexp
}

// RuleSet is an ordered list of rules.
type RuleSet struct {
	Rules []Rule `yaml:"rules"`
}

// Input is a message under inspection.
type Input struct {
	Role    string
	Content string
	Hash    string
}

// ParseRules decodes and compiles a rules document.
func ParseRules(data []byte) (*RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("decoding rules: %w", err)
	}
	if len(rs.Rules) == 0 {
		return nil, errors.New("rules document has no rules")
	}
	for i := range rs.Rules {
		if err := rs.Rules[i].compile(); err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, rs.Rules[i].Kind, err)
		}
	}
	return &rs, nil
}

// DefaultRules returns the built-in rule set.
func DefaultRules() *RuleSet {
	rs, err := ParseRules(defaultRulesYAML)
	if err != nil {
		panic(fmt.Sprintf("compaction: built-in rules: %v", err))
	}
	return rs
}

// LoadRules returns the rules in path, or the built-in rules when path is
// empty or missing. An unreadable or invalid file is logged and the
// built-in rules are used.
func LoadRules(path string, log *logger.Logger) *RuleSet {
	if log == nil {
		log = logger.NewNop()
	}
	if path == "" {
		return DefaultRules()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Error("Reading compaction rules failed, using built-in rules", zap.String("path", path), zap.Error(err))
		}
		return DefaultRules()
	}
	rs, err := ParseRules(data)
	if err != nil {
		log.Error("Invalid compaction rules, using built-in rules", zap.String("path", path), zap.Error(err))
		return DefaultRules()
	}
	log.Info("Loaded compaction rules", zap.String("path", path), zap.Int("rules", len(rs.Rules)))
	return rs
}

func (r *Rule) compile() error {
	switch r.Kind {
	case KindPhrase:
		if len(r.Patterns) == 0 {
			return errors.New("no patterns")
		}
		r.phrases = make([]string, len(r.Patterns))
		for i, p := range r.Patterns {
			r.phrases[i] = normalizeText(p)
		}
	case KindContextLimit:
		if len(r.Patterns) == 0 {
			return errors.New("no patterns")
		}
		r.regexps = make([]*regexp.Regexp, len(r.Patterns))
		for i, p := range r.Patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return err
			}
			r.regexps[i] = re
		}
	case KindRepeatedSystem:
		if r.Head <= 0 {
			r.Head = 5
		}
		if r.MinMessages <= 0 {
			r.MinMessages = 10
		}
	default:
		return fmt.Errorf("unknown rule kind %q", r.Kind)
	}
	return nil
}

// Match reports whether in matches the rule, returning the matched pattern.
// sess may be nil for a session with no history.
func (r *Rule) Match(in Input, sess *session.Session) (string, bool) {
	switch r.Kind {
	case KindPhrase:
		text := normalizeText(in.Content)
		for i, p := range r.phrases {
			if strings.Contains(text, p) {
				return r.Patterns[i], true
			}
		}
	case KindRepeatedSystem:
		if in.Role != "system" || sess == nil || len(sess.Messages)+1 <= r.MinMessages {
			return "", false
		}
		head := sess.Messages
		if len(head) > r.Head {
			head = head[:r.Head]
		}
		for _, rec := range head {
			if rec.Hash == in.Hash {
				return "system message repeated from session start", true
			}
		}
	case KindContextLimit:
		for i, re := range r.regexps {
			if re.MatchString(in.Content) {
				return r.Patterns[i], true
			}
		}
	}
	return "", false
}

// Match evaluates rules in order; the first match wins.
func (rs *RuleSet) Match(in Input, sess *session.Session) (*Rule, string, bool) {
	for i := range rs.Rules {
		if pattern, ok := rs.Rules[i].Match(in, sess); ok {
			return &rs.Rules[i], pattern, true
		}
	}
	return nil, "", false
}

// normalizeText lowercases s and folds typographic apostrophes.
func normalizeText(s string) string {
	return strings.ToLower(strings.NewReplacer("’", "'", "‘", "'").Replace(s))
}
