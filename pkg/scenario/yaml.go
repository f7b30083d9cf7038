package scenario

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/farmanp/turbulence/pkg/apperror"
)

// ActionList - список действий с декодированием размеченного объединения
// по полю type.
type ActionList []Action

// UnmarshalYAML декодирует список действий, выбирая конкретный тип
// по тегу type каждого элемента.
func (l *ActionList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode {
		return apperror.New(apperror.CodeInvalidScenario, "flow must be a list of actions")
	}

	out := make(ActionList, 0, len(node.Content))
	for i, item := range node.Content {
		action, err := decodeAction(item)
		if err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
		out = append(out, action)
	}

	*l = out
	return nil
}

func decodeAction(node *yaml.Node) (Action, error) {
	var probe struct {
		Type string `yaml:"type"`
	}
	if err := node.Decode(&probe); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInvalidScenario, "action is not a mapping")
	}

	switch probe.Type {
	case KindHTTP:
		var a HTTPAction
		if err := node.Decode(&a); err != nil {
			return nil, apperror.Wrap(err, apperror.CodeInvalidScenario, "invalid http action")
		}
		if a.Retry != nil {
			a.Retry.Normalize()
		}
		return &a, nil
	case KindWait:
		var a WaitAction
		if err := node.Decode(&a); err != nil {
			return nil, apperror.Wrap(err, apperror.CodeInvalidScenario, "invalid wait action")
		}
		return &a, nil
	case KindAssert:
		var a AssertAction
		if err := node.Decode(&a); err != nil {
			return nil, apperror.Wrap(err, apperror.CodeInvalidScenario, "invalid assert action")
		}
		return &a, nil
	case KindDecide:
		var a DecideAction
		if err := node.Decode(&a); err != nil {
			return nil, apperror.Wrap(err, apperror.CodeInvalidScenario, "invalid decide action")
		}
		return &a, nil
	case KindBranch:
		var a BranchAction
		if err := node.Decode(&a); err != nil {
			return nil, apperror.Wrap(err, apperror.CodeInvalidScenario, "invalid branch action")
		}
		return &a, nil
	case KindGRPC:
		var a GRPCAction
		if err := node.Decode(&a); err != nil {
			return nil, apperror.Wrap(err, apperror.CodeInvalidScenario, "invalid grpc action")
		}
		return &a, nil
	case "":
		return nil, apperror.New(apperror.CodeInvalidScenario, "action is missing the type tag")
	default:
		return nil, apperror.Newf(apperror.CodeUnknownAction, "unknown action type %q", probe.Type)
	}
}
