package support

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jinzhu/copier"
	"go.opentelemetry.io/otel/attribute"

	"github.com/rfolmedoa/ai-voice-agent-for-it-support/core/llms"
)

const instructionsTemplate = `Instructions:
You are a friendly and efficient IT support agent who assists callers over the phone in filling out the following form: %s. Guide the caller through each field, collecting accurate information while keeping a natural, conversational tone.

Tone & Style:
Empathetic, professional and supportive.
Use short, natural spoken sentences.
Avoid robotic or overly formal language.

Rules:
Only ask one question at a time.
Do not mention field hints or expected formats unless the caller asks or their answer is incomplete.
Never ask for information the caller already provided, use it to call tools instead.
Always call the verify_identity tool once the caller has provided their full name and birth date, even if they were given in separate messages.
Always call the record_answer tool before asking the next question.`

const taskTemplate = `Is the caller's identity verified:
%t

Recorded answers:
%s

Current field for the caller to answer:
%s

Next field to ask about after the current one:
%s

Caller said:
%s`

// historyLimit caps the turns replayed into the prompt so latency does
// not grow unbounded over a long call.
const historyLimit = 10

// Prompter generates responses with tool support. Satisfied by the
// OpenAI client.
type Prompter interface {
	Prompt(ctx context.Context, prompt string, opts ...llms.PromptOption) (*llms.Response, error)
}

// Agent collects an IT support request over a call. It gates form
// updates behind identity verification and submits the form once every
// field is answered. One Agent serves one call.
type Agent struct {
	prompter  Prompter
	form      Form
	submitter Submitter
	verify    VerifyFunc

	mu               sync.Mutex
	history          []llms.Turn
	answers          map[string]string
	fieldIndex       int
	identityVerified bool
	formSubmitted    bool
	submissionID     string
}

// Identity is the caller identity presented for verification.
type Identity struct {
	FirstName  string
	LastName   string
	BirthMonth int
	BirthDay   int
	BirthYear  int
}

// VerifyFunc decides whether a presented identity belongs to a known
// caller.
type VerifyFunc func(ctx context.Context, identity Identity) bool

type Option func(*Agent)

func WithForm(form Form) Option {
	return func(a *Agent) { a.form = form }
}

func WithSubmitter(submitter Submitter) Option {
	return func(a *Agent) { a.submitter = submitter }
}

func WithVerification(verify VerifyFunc) Option {
	return func(a *Agent) { a.verify = verify }
}

// WithKnownCallers verifies identities against a fixed directory,
// matching names case-insensitively.
func WithKnownCallers(callers ...Identity) Option {
	return WithVerification(func(_ context.Context, identity Identity) bool {
		for _, caller := range callers {
			if strings.EqualFold(caller.FirstName, identity.FirstName) &&
				strings.EqualFold(caller.LastName, identity.LastName) &&
				caller.BirthMonth == identity.BirthMonth &&
				caller.BirthDay == identity.BirthDay &&
				caller.BirthYear == identity.BirthYear {
				return true
			}
		}
		return false
	})
}

func NewAgent(prompter Prompter, opts ...Option) *Agent {
	agent := &Agent{
		prompter:  prompter,
		form:      DefaultForm(),
		submitter: loggedSubmitter{},
		verify:    func(context.Context, Identity) bool { return false },
		answers:   map[string]string{},
	}

	for _, opt := range opts {
		opt(agent)
	}

	return agent
}

// Reply generates the agent's spoken response to a caller utterance.
func (a *Agent) Reply(ctx context.Context, utterance string) (string, error) {
	ctx, span := tracer.Start(ctx, "support agent reply")
	defer span.End()

	a.mu.Lock()
	task := a.taskPrompt(utterance)
	history := a.history
	a.mu.Unlock()

	response, err := a.prompter.Prompt(ctx, task,
		llms.WithSystemPrompt(fmt.Sprintf(instructionsTemplate, a.form.Title)),
		llms.WithTurns(history...),
		llms.WithTools(a.tools()...),
	)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to generate response: %w", err)
	}

	span.SetAttributes(attribute.Int("response.tool_calls", len(response.ToolCalls)))

	a.mu.Lock()
	a.history = append(a.history,
		llms.Turn{Role: llms.TurnRoleUser, Content: utterance},
		llms.Turn{Role: llms.TurnRoleAssistant, Content: response.Content, ToolCalls: response.ToolCalls},
	)
	if len(a.history) > historyLimit {
		a.history = a.history[len(a.history)-historyLimit:]
	}
	a.mu.Unlock()

	return response.Content, nil
}

// History returns a copy of the conversation so far.
func (a *Agent) History() []llms.Turn {
	a.mu.Lock()
	defer a.mu.Unlock()

	history := []llms.Turn{}
	if err := copier.Copy(&history, a.history); err != nil {
		logger.Warn("Failed to copy conversation history", "error", err)
		return nil
	}
	return history
}

// Submitted reports whether the form was submitted and under which ID.
func (a *Agent) Submitted() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.submissionID, a.formSubmitted
}

func (a *Agent) taskPrompt(utterance string) string {
	recorded := "none"
	if len(a.answers) > 0 {
		parts := make([]string, 0, len(a.answers))
		for _, field := range a.form.Fields {
			if answer, ok := a.answers[field.ID]; ok {
				parts = append(parts, fmt.Sprintf("%s: %s", field.Label, answer))
			}
		}
		recorded = strings.Join(parts, "\n")
	}

	return fmt.Sprintf(taskTemplate,
		a.identityVerified,
		recorded,
		describeField(a.currentField()),
		describeField(a.nextField()),
		utterance,
	)
}

func (a *Agent) currentField() *Field {
	if a.fieldIndex >= len(a.form.Fields) {
		return nil
	}
	return &a.form.Fields[a.fieldIndex]
}

func (a *Agent) nextField() *Field {
	if a.fieldIndex+1 >= len(a.form.Fields) {
		return nil
	}
	return &a.form.Fields[a.fieldIndex+1]
}

func describeField(field *Field) string {
	if field == nil {
		return "none, the form is complete"
	}

	description := fmt.Sprintf("%s (id: %s)", field.Label, field.ID)
	if field.Hint != "" {
		description += ", hint: " + field.Hint
	}
	if field.Required {
		description += ", required"
	}
	return description
}

type verifyIdentityArgs struct {
	FirstName  string `json:"first_name" jsonschema:"description=Caller's first name"`
	LastName   string `json:"last_name" jsonschema:"description=Caller's last name"`
	BirthMonth int    `json:"birth_month" jsonschema:"description=Birth month as a number"`
	BirthDay   int    `json:"birth_day" jsonschema:"description=Birth day as a number"`
	BirthYear  int    `json:"birth_year" jsonschema:"description=Four digit birth year"`
}

type recordAnswerArgs struct {
	FieldID string `json:"field_id" jsonschema:"description=ID of the field being answered"`
	Answer  string `json:"answer" jsonschema:"description=The caller's answer to the field"`
}

type submitFormArgs struct{}

func (a *Agent) tools() []llms.Tool {
	return []llms.Tool{
		llms.NewTool("verify_identity",
			"Verify the caller's identity with their full name and birth date. Must succeed before any answers are recorded.",
			a.verifyIdentity),
		llms.NewTool("record_answer",
			"Record the caller's answer to the current form field and advance to the next field.",
			a.recordAnswer),
		llms.NewTool("submit_form",
			"Submit the form once every field has a recorded answer.",
			a.submitForm),
	}
}

func (a *Agent) verifyIdentity(ctx context.Context, args verifyIdentityArgs) (string, error) {
	verified := a.verify(ctx, Identity{
		FirstName:  args.FirstName,
		LastName:   args.LastName,
		BirthMonth: args.BirthMonth,
		BirthDay:   args.BirthDay,
		BirthYear:  args.BirthYear,
	})

	a.mu.Lock()
	defer a.mu.Unlock()

	if !verified {
		logger.InfoContext(ctx, "Identity verification failed",
			"firstName", args.FirstName, "lastName", args.LastName)
		return "Identity verification failed.", nil
	}

	a.identityVerified = true

	// The name field is typically first and the caller just spelled
	// their name out, so fill it in on their behalf.
	if field := a.currentField(); field != nil && field.ID == "name" {
		a.answers[field.ID] = strings.TrimSpace(args.FirstName + " " + args.LastName)
		a.fieldIndex++
		return "Identity verified successfully. The name was also added to the form.", nil
	}

	return "Identity verified successfully.", nil
}

func (a *Agent) recordAnswer(ctx context.Context, args recordAnswerArgs) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.identityVerified {
		return "Identity is not verified. Verify the caller's identity before recording answers.", nil
	}

	field := a.currentField()
	if field == nil {
		return "The form is already complete. Submit it with the submit_form tool.", nil
	}
	if args.FieldID != field.ID {
		return fmt.Sprintf("The current field is %q, not %q. Record the answer to the current field first.", field.ID, args.FieldID), nil
	}

	a.answers[field.ID] = args.Answer
	a.fieldIndex++

	logger.InfoContext(ctx, "Answer recorded", "field", field.ID)

	if a.currentField() == nil {
		return "Answer recorded. All fields are answered, submit the form with the submit_form tool.", nil
	}
	return "Answer recorded successfully.", nil
}

func (a *Agent) submitForm(ctx context.Context, _ submitFormArgs) (string, error) {
	a.mu.Lock()

	if !a.identityVerified {
		a.mu.Unlock()
		return "Identity is not verified. Verify the caller's identity before submitting the form.", nil
	}
	if a.currentField() != nil {
		a.mu.Unlock()
		return "There are still fields to answer. Ask the remaining questions before submitting the form.", nil
	}
	if a.formSubmitted {
		a.mu.Unlock()
		return "The form was already submitted.", nil
	}

	answers := map[string]string{}
	for id, answer := range a.answers {
		answers[id] = answer
	}
	a.mu.Unlock()

	submissionID, err := a.submitter.Submit(ctx, a.form, answers)
	if err != nil {
		logger.ErrorContext(ctx, "Form submission failed", "error", err)
		return "", fmt.Errorf("failed to submit form: %w", err)
	}

	a.mu.Lock()
	a.formSubmitted = true
	a.submissionID = submissionID
	a.mu.Unlock()

	return "Form submitted successfully.", nil
}
