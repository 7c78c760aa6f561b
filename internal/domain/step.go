package domain

// StepType дискриминатор шага агента.
type StepType string

const (
	StepObserve StepType = "observe"
	StepAct     StepType = "act"
	StepAsk     StepType = "ask"
	StepFinish  StepType = "finish"
)

// PlannedAction одно действие, предложенное моделью.
// Флаг Destructive носит рекомендательный характер и никогда не используется в одиночку.
type PlannedAction struct {
	Action      string         `json:"action"`
	Params      map[string]any `json:"params"`
	Destructive bool           `json:"destructive,omitempty"`
}

// AgentStep описывает один шаг цикла (tagged union). Активна ровно одна форма, определяемая Type.
//   - observe: Action + Params (одно read-only действие)
//   - act:     Actions + Reply
//   - ask:     Question
//   - finish:  Reply
type AgentStep struct {
	Type     StepType        `json:"type"`
	Action   string          `json:"action,omitempty"`
	Params   map[string]any  `json:"params,omitempty"`
	Actions  []PlannedAction `json:"actions,omitempty"`
	Reply    string          `json:"reply,omitempty"`
	Question string          `json:"question,omitempty"`
}

func Observe(action string, params map[string]any) AgentStep {
	if params == nil {
		params = map[string]any{}
	}
	return AgentStep{Type: StepObserve, Action: action, Params: params}
}

func Act(actions []PlannedAction, reply string) AgentStep {
	return AgentStep{Type: StepAct, Actions: actions, Reply: reply}
}

func Ask(question string) AgentStep {
	return AgentStep{Type: StepAsk, Question: question}
}

func Finish(reply string) AgentStep {
	return AgentStep{Type: StepFinish, Reply: reply}
}

// IsTerminal сообщает, завершает ли шаг текущий ход.
func (s AgentStep) IsTerminal() bool {
	return s.Type == StepAsk || s.Type == StepFinish
}

// ObservedAction возвращает действие observe-шага в форме PlannedAction.
func (s AgentStep) ObservedAction() PlannedAction {
	params := s.Params
	if params == nil {
		params = map[string]any{}
	}
	return PlannedAction{Action: s.Action, Params: params}
}

// ChatRole роль сообщения в контексте модели.
type ChatRole string

const (
	RoleSystem    ChatRole = "system"
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
)

type ChatMessage struct {
	Role    ChatRole `json:"role"`
	Content string   `json:"content"`
}
