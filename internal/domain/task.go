package domain

// TaskType — закрытый набор типов задач, которые может исполнять домен.
type TaskType string

const (
	TaskExecute  TaskType = "EXECUTE"
	TaskAnalyze  TaskType = "ANALYZE"
	TaskEscalate TaskType = "ESCALATE"
)

// AllTaskTypes в каноническом порядке.
var AllTaskTypes = []TaskType{TaskExecute, TaskAnalyze, TaskEscalate}

func (t TaskType) Valid() bool {
	switch t {
	case TaskExecute, TaskAnalyze, TaskEscalate:
		return true
	}
	return false
}

// TaskDescriptor — объектная форма задачи. Поле type приоритетнее task_type.
type TaskDescriptor struct {
	Type     string `json:"type,omitempty"`
	TaskType string `json:"task_type,omitempty"`
}

// ParseTaskType приводит произвольное описание задачи к TaskType.
// Принимает строку, TaskType, TaskDescriptor или map с ключом type/task_type
// (так задача приходит из JSON). Всё остальное — false.
func ParseTaskType(task any) (TaskType, bool) {
	var raw string
	switch v := task.(type) {
	case TaskType:
		raw = string(v)
	case string:
		raw = v
	case TaskDescriptor:
		raw = pick(v.Type, v.TaskType)
	case *TaskDescriptor:
		if v == nil {
			return "", false
		}
		raw = pick(v.Type, v.TaskType)
	case map[string]any:
		t, _ := v["type"].(string)
		tt, _ := v["task_type"].(string)
		raw = pick(t, tt)
	case map[string]string:
		raw = pick(v["type"], v["task_type"])
	default:
		return "", false
	}

	tt := TaskType(raw)
	if !tt.Valid() {
		return "", false
	}
	return tt, true
}

func pick(first, second string) string {
	if first != "" {
		return first
	}
	return second
}
