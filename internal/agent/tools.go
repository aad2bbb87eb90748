package agent

import "github.com/tmc/langchaingo/llms"

// Function names used to request structured decisions.
const (
	ToolSubmitPlan      = "submit_plan"
	ToolSubmitDispatch  = "submit_dispatch"
	ToolSubmitExecution = "submit_execution"
)

type schema = map[string]any

func str(desc string) schema {
	return schema{"type": "string", "description": desc}
}

func object(props schema, required ...string) schema {
	s := schema{"type": "object", "properties": props}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

var statusSchema = schema{
	"type": "string",
	"enum": []string{"", "In Progress", "Successful", "Unsuccessful"},
}

var subtaskSchema = object(schema{
	"Sub_Task":                    str("What the subtask does"),
	"Agent":                       str("Name of the agent that executes it"),
	"Agent_Function":              str("Function the agent calls"),
	"Sub_Task_Output":             str("Output once executed"),
	"Sub_Task_Output_Observation": str("Observation on the output"),
	"Subtask_Status":              statusSchema,
}, "Sub_Task", "Agent", "Agent_Function", "Subtask_Status")

var taskSchema = object(schema{
	"Task":                    str("What the task achieves"),
	"Task_Output":             str("Output once every subtask is done"),
	"Task_Output_Observation": str("Observation on the task output"),
	"Task_Status":             statusSchema,
	"Sub_Tasks":               schema{"type": "array", "items": subtaskSchema},
}, "Task", "Task_Status", "Sub_Tasks")

var planSchema = object(schema{
	"Tasks":                         schema{"type": "array", "items": taskSchema},
	"Overall_execution_of_the_plan": str(`"", "In-Progress" or "Successful"`),
}, "Tasks", "Overall_execution_of_the_plan")

var memorySchema = object(schema{
	"Thought":     str("Reasoning so far"),
	"Action":      str("What was done"),
	"Observation": str("What was learned"),
})

var currentTaskSchema = object(schema{
	"Task":    str("The task"),
	"Subtask": str("The subtask"),
}, "Task", "Subtask")

var agentInputSchema = object(schema{
	"agent_input":    str("Instruction for the agent"),
	"Agent":          str("Agent that executes it"),
	"Agent_Function": str("Function the agent executes"),
}, "agent_input", "Agent", "Agent_Function")

var agentOutputSchema = object(schema{
	"agent_output":   str("Raw synthetic data produced by the agent"),
	"Agent":          str("Agent that produced it"),
	"Agent_Function": str("Function that produced it"),
}, "agent_output", "Agent", "Agent_Function")

func function(name, desc string, params schema) llms.Tool {
	return llms.Tool{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:        name,
			Description: desc,
			Parameters:  params,
		},
	}
}

// toolFor returns the function a structured kind must call.
func toolFor(kind Kind) (llms.Tool, bool) {
	switch kind {
	case KindInitialPlan:
		return function(ToolSubmitPlan, "Submit the initial plan with short-term and long-term memory.", object(schema{
			"plan":      planSchema,
			"st_memory": memorySchema,
			"lt_memory": memorySchema,
		}, "plan", "st_memory", "lt_memory")), true
	case KindDispatch:
		return function(ToolSubmitDispatch, "Dispatch the current subtask to its agent.", object(schema{
			"current_task": currentTaskSchema,
			"agent_input":  agentInputSchema,
			"plan":         planSchema,
			"st_memory":    memorySchema,
			"lt_memory":    memorySchema,
		}, "current_task", "agent_input", "plan", "st_memory", "lt_memory")), true
	case KindExecute:
		return function(ToolSubmitExecution, "Record the agent output and propose the next subtask.", object(schema{
			"agent_output":     agentOutputSchema,
			"plan":             planSchema,
			"st_memory":        memorySchema,
			"lt_memory":        memorySchema,
			"next_task":        currentTaskSchema,
			"next_agent_input": agentInputSchema,
		}, "agent_output", "plan", "st_memory", "lt_memory")), true
	default:
		return llms.Tool{}, false
	}
}
