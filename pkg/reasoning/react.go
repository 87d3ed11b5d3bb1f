package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/taleforge/dungeonmaster/pkg/llms"
	"github.com/taleforge/dungeonmaster/pkg/tools"
)

// StepType tags one entry in a ReActResult's ordered step list.
type StepType string

const (
	StepThought     StepType = "thought"
	StepAction      StepType = "action"
	StepObservation StepType = "observation"
	StepFinalAnswer StepType = "final_answer"
)

// ReActStep is one recorded entry of the Thought/Action/Observation loop.
type ReActStep struct {
	Type    StepType
	Content string
	Tool    string
	Args    map[string]interface{}
}

// ReActResult is C7's result contract (§4.6).
type ReActResult struct {
	OK          bool
	FinalAnswer string
	Steps       []ReActStep
	Iterations  int
	Elapsed     time.Duration
	Error       string
}

// ReActConfig tunes the loop's bounds.
type ReActConfig struct {
	MaxIterations int
	Timeout       time.Duration
	Priority      llms.Priority
}

func (c *ReActConfig) setDefaults() {
	if c.MaxIterations == 0 {
		c.MaxIterations = 8
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Priority == "" {
		c.Priority = llms.PriorityMedium
	}
}

var (
	reThought     = regexp.MustCompile(`(?is)Thought:\s*(.+?)(?:\n(?:Action:|Final Answer:)|\z)`)
	reAction      = regexp.MustCompile(`(?is)Action:\s*([^\n]+)`)
	reActionInput = regexp.MustCompile(`(?is)Action Input:\s*(.+?)(?:\nObservation:|\z)`)
	reFinalAnswer = regexp.MustCompile(`(?is)Final Answer:\s*(.+)\z`)
)

// Executor is the ReAct Thought/Action/Observation loop over a Tool
// Manager (C7).
type Executor struct {
	cfg ReActConfig
}

// NewExecutor builds a ReAct executor with the given configuration.
func NewExecutor(cfg ReActConfig) *Executor {
	cfg.setDefaults()
	return &Executor{cfg: cfg}
}

// Run executes the loop until a Final Answer, max iterations, or
// timeout (§4.6).
func (e *Executor) Run(ctx context.Context, task string, history []llms.Message, llm Chatter, toolManager *tools.Manager) *ReActResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	var steps []ReActStep
	messages := append([]llms.Message{{Role: "system", Content: e.buildSystemPrompt(toolManager)}}, history...)
	messages = append(messages, llms.Message{Role: "user", Content: task})

	for iter := 1; iter <= e.cfg.MaxIterations; iter++ {
		if ctx.Err() != nil {
			return &ReActResult{Steps: steps, Iterations: iter - 1, Elapsed: time.Since(start), OK: false, Error: "timeout"}
		}

		resp, err := llm.Chat(ctx, messages, nil, e.cfg.Priority)
		if err != nil {
			if ctx.Err() != nil {
				return &ReActResult{Steps: steps, Iterations: iter, Elapsed: time.Since(start), OK: false, Error: "timeout"}
			}
			return &ReActResult{Steps: steps, Iterations: iter, Elapsed: time.Since(start), OK: false, Error: err.Error()}
		}
		text := resp.Text
		messages = append(messages, llms.Message{Role: "assistant", Content: text})

		if m := reThought.FindStringSubmatch(text); m != nil {
			steps = append(steps, ReActStep{Type: StepThought, Content: strings.TrimSpace(m[1])})
		}

		if m := reFinalAnswer.FindStringSubmatch(text); m != nil {
			answer := strings.TrimSpace(m[1])
			steps = append(steps, ReActStep{Type: StepFinalAnswer, Content: answer})
			return &ReActResult{OK: true, FinalAnswer: answer, Steps: steps, Iterations: iter, Elapsed: time.Since(start)}
		}

		actionMatch := reAction.FindStringSubmatch(text)
		inputMatch := reActionInput.FindStringSubmatch(text)
		if actionMatch == nil {
			// No action and no final answer: treat as another thought and
			// continue, nudging the model to conclude.
			messages = append(messages, llms.Message{Role: "user", Content: "Continue with Action/Action Input, or give a Final Answer."})
			continue
		}

		toolName := strings.TrimSpace(actionMatch[1])
		var rawInput string
		if inputMatch != nil {
			rawInput = strings.TrimSpace(inputMatch[1])
		}
		args := parseActionInput(rawInput)

		steps = append(steps, ReActStep{Type: StepAction, Content: rawInput, Tool: toolName, Args: args})

		observation := e.observe(ctx, toolManager, toolName, args)
		steps = append(steps, ReActStep{Type: StepObservation, Content: observation, Tool: toolName})
		messages = append(messages, llms.Message{Role: "user", Content: "Observation: " + observation})
	}

	return &ReActResult{Steps: steps, Iterations: e.cfg.MaxIterations, Elapsed: time.Since(start), OK: false, Error: "max iterations"}
}

func (e *Executor) observe(ctx context.Context, toolManager *tools.Manager, toolName string, args map[string]interface{}) string {
	if toolManager == nil {
		return fmt.Sprintf("error: no tool manager available to call %q", toolName)
	}
	result, err := toolManager.Call(ctx, toolName, args)
	if err != nil {
		return "error: " + err.Error()
	}
	if !result.Success {
		return "error: " + result.Error
	}
	return result.Content
}

func (e *Executor) buildSystemPrompt(toolManager *tools.Manager) string {
	var b strings.Builder
	b.WriteString("You reason using this strict format:\n")
	b.WriteString("Thought: <your reasoning>\n")
	b.WriteString("Action: <tool name>\n")
	b.WriteString("Action Input: <JSON object of arguments>\n")
	b.WriteString("Observation: <result, filled in by the system>\n")
	b.WriteString("... repeat Thought/Action/Action Input/Observation as needed ...\n")
	b.WriteString("Thought: I now know the final answer\n")
	b.WriteString("Final Answer: <your answer>\n\n")
	b.WriteString("Available tools:\n")
	if toolManager != nil {
		for _, info := range toolManager.ListTools(nil) {
			b.WriteString(fmt.Sprintf("- %s: %s\n", info.Name, info.Description))
			for _, p := range info.Parameters {
				req := "optional"
				if p.Required {
					req = "required"
				}
				extra := ""
				if len(p.Enum) > 0 {
					extra = fmt.Sprintf(" enum=%v", p.Enum)
				}
				if p.Default != nil {
					extra += fmt.Sprintf(" default=%v", p.Default)
				}
				b.WriteString(fmt.Sprintf("    %s (%s, %s)%s\n", p.Name, p.Type, req, extra))
			}
		}
	}
	return b.String()
}

// parseActionInput implements §4.6/§9's strict tokeniser: try JSON
// first, then a safe literal evaluator (scalars/arrays/maps only, no
// code execution), finally fall back to {"raw_input": text}.
func parseActionInput(raw string) map[string]interface{} {
	if raw == "" {
		return map[string]interface{}{}
	}
	var asMap map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &asMap); err == nil {
		return asMap
	}
	if v, ok := parseSafeLiteral(raw); ok {
		if m, ok := v.(map[string]interface{}); ok {
			return m
		}
		return map[string]interface{}{"raw_input": v}
	}
	return map[string]interface{}{"raw_input": raw}
}

// parseSafeLiteral parses a Python-style literal (dict/list/string/
// number/bool/None) without ever executing code. It recognises only the
// scalar/array/map grammar named in §4.6.
func parseSafeLiteral(s string) (interface{}, bool) {
	p := &literalParser{s: strings.TrimSpace(s)}
	v, ok := p.parseValue()
	if !ok {
		return nil, false
	}
	p.skipSpace()
	if p.pos != len(p.s) {
		return nil, false
	}
	return v, true
}

type literalParser struct {
	s   string
	pos int
}

func (p *literalParser) skipSpace() {
	for p.pos < len(p.s) && (p.s[p.pos] == ' ' || p.s[p.pos] == '\t' || p.s[p.pos] == '\n') {
		p.pos++
	}
}

func (p *literalParser) peek() byte {
	if p.pos >= len(p.s) {
		return 0
	}
	return p.s[p.pos]
}

func (p *literalParser) parseValue() (interface{}, bool) {
	p.skipSpace()
	if p.pos >= len(p.s) {
		return nil, false
	}
	switch p.peek() {
	case '{':
		return p.parseDict()
	case '[':
		return p.parseList()
	case '\'', '"':
		return p.parseString()
	default:
		return p.parseScalar()
	}
}

func (p *literalParser) parseDict() (interface{}, bool) {
	p.pos++ // {
	m := map[string]interface{}{}
	p.skipSpace()
	if p.peek() == '}' {
		p.pos++
		return m, true
	}
	for {
		p.skipSpace()
		key, ok := p.parseString()
		if !ok {
			return nil, false
		}
		p.skipSpace()
		if p.peek() != ':' {
			return nil, false
		}
		p.pos++
		val, ok := p.parseValue()
		if !ok {
			return nil, false
		}
		m[key.(string)] = val
		p.skipSpace()
		if p.peek() == ',' {
			p.pos++
			continue
		}
		if p.peek() == '}' {
			p.pos++
			return m, true
		}
		return nil, false
	}
}

func (p *literalParser) parseList() (interface{}, bool) {
	p.pos++ // [
	var list []interface{}
	p.skipSpace()
	if p.peek() == ']' {
		p.pos++
		return list, true
	}
	for {
		val, ok := p.parseValue()
		if !ok {
			return nil, false
		}
		list = append(list, val)
		p.skipSpace()
		if p.peek() == ',' {
			p.pos++
			continue
		}
		if p.peek() == ']' {
			p.pos++
			return list, true
		}
		return nil, false
	}
}

func (p *literalParser) parseString() (interface{}, bool) {
	if p.peek() != '\'' && p.peek() != '"' {
		return nil, false
	}
	quote := p.s[p.pos]
	p.pos++
	start := p.pos
	var sb strings.Builder
	for p.pos < len(p.s) {
		c := p.s[p.pos]
		if c == '\\' && p.pos+1 < len(p.s) {
			sb.WriteByte(p.s[p.pos+1])
			p.pos += 2
			continue
		}
		if c == quote {
			p.pos++
			return sb.String(), true
		}
		sb.WriteByte(c)
		p.pos++
	}
	_ = start
	return nil, false
}

func (p *literalParser) parseScalar() (interface{}, bool) {
	start := p.pos
	for p.pos < len(p.s) && !strings.ContainsRune(",}] \t\n", rune(p.s[p.pos])) {
		p.pos++
	}
	tok := p.s[start:p.pos]
	switch tok {
	case "True", "true":
		return true, true
	case "False", "false":
		return false, true
	case "None", "null":
		return nil, true
	}
	if i, err := strconv.ParseInt(tok, 10, 64); err == nil {
		return i, true
	}
	if f, err := strconv.ParseFloat(tok, 64); err == nil {
		return f, true
	}
	return nil, false
}

// ReActEngine adapts Executor to the Engine interface so "react" can be
// selected through the same EngineFactory as the other strategies.
type ReActEngine struct {
	executor *Executor
	cfg      EngineConfig
}

func NewReActEngine() *ReActEngine { return &ReActEngine{} }

func (e *ReActEngine) SetConfig(cfg EngineConfig) {
	e.cfg = cfg
	e.executor = NewExecutor(ReActConfig{MaxIterations: cfg.MaxSteps, Timeout: cfg.StepTimeout * time.Duration(maxInt(cfg.MaxSteps, 1)), Priority: cfg.Priority})
}

func (e *ReActEngine) Process(ctx context.Context, agentID string, taskContext string, llm Chatter, toolManager *tools.Manager) (*ReasoningResult, error) {
	if e.executor == nil {
		e.SetConfig(e.cfg)
	}
	result := e.executor.Run(ctx, taskContext, nil, llm, toolManager)

	var thoughts, path []string
	for _, s := range result.Steps {
		switch s.Type {
		case StepThought:
			thoughts = append(thoughts, s.Content)
			path = append(path, "thought")
		case StepAction:
			path = append(path, "action:"+s.Tool)
		case StepObservation:
			path = append(path, "observation:"+s.Tool)
		case StepFinalAnswer:
			path = append(path, "final_answer")
		}
	}

	return &ReasoningResult{
		Thoughts:      thoughts,
		FinalAnswer:   result.FinalAnswer,
		ReasoningPath: path,
		ExecutionTime: result.Elapsed,
		OK:            result.OK,
		Error:         result.Error,
	}, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
