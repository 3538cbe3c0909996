package rules

import (
	"reflect"
	"strings"
	"sync"

	perr "calsieve/internal/platform/errors"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

// Definition is the boundary record a rule arrives as from the persistence
// layer or the admin API. A definition is simple when Operator is empty and
// compound otherwise. Conditions carry no operator of their own, so nested
// compound rules are unrepresentable
type Definition struct {
	RuleType      string      `json:"rule_type" validate:"required_without=Operator,omitempty,rulekind"`
	RuleValue     string      `json:"rule_value" validate:"required_without=Operator"`
	Operator      string      `json:"operator" validate:"omitempty,oneof=AND OR and or"`
	Conditions    []Condition `json:"conditions" validate:"omitempty,max=32,dive"`
	TargetGroupID int64       `json:"target_group_id" validate:"required,gt=0"`
}

// Condition is one simple predicate inside a compound definition
type Condition struct {
	RuleType  string `json:"rule_type" validate:"required,rulekind"`
	RuleValue string `json:"rule_value" validate:"required"`
}

var (
	vOnce sync.Once
	vld   *validator.Validate
	trans ut.Translator
)

// validate returns the singleton validator with english messages and json
// tag names, initialized the first time a definition is compiled
func validate() *validator.Validate {
	vOnce.Do(func() {
		enLoc := en.New()
		uni := ut.New(enLoc, enLoc)
		trans, _ = uni.GetTranslator("en")

		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			tag := fld.Tag.Get("json")
			if tag == "-" || tag == "" {
				return fld.Name
			}
			if idx := strings.Index(tag, ","); idx >= 0 {
				tag = tag[:idx]
			}
			return tag
		})
		_ = en_translations.RegisterDefaultTranslations(v, trans)

		_ = v.RegisterValidation("rulekind", func(fl validator.FieldLevel) bool {
			_, ok := ParseKind(fl.Field().String())
			return ok
		})

		vld = v
	})
	return vld
}

// Compile validates definitions and converts them into evaluable rules,
// preserving list order (which is the rule priority order). The first
// invalid definition fails the whole compile so a bad rule never reaches
// the engine
func Compile(defs []Definition) ([]Rule, error) {
	v := validate()
	out := make([]Rule, 0, len(defs))

	for i, def := range defs {
		if err := v.Struct(def); err != nil {
			return nil, perr.Wrapf(err, perr.ErrorCodeValidation,
				"rule %d: %s", i, firstMessage(err))
		}

		if def.Operator == "" {
			kind, _ := ParseKind(def.RuleType)
			out = append(out, Simple{
				Kind:          kind,
				Value:         def.RuleValue,
				TargetGroupID: def.TargetGroupID,
			})
			continue
		}

		op, _ := ParseOperator(def.Operator)
		conds := make([]Simple, 0, len(def.Conditions))
		for _, c := range def.Conditions {
			kind, _ := ParseKind(c.RuleType)
			conds = append(conds, Simple{Kind: kind, Value: c.RuleValue, TargetGroupID: def.TargetGroupID})
		}
		out = append(out, Compound{
			Op:            op,
			Conditions:    conds,
			TargetGroupID: def.TargetGroupID,
		})
	}
	return out, nil
}

// firstMessage renders the first validation failure as a short message
func firstMessage(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return err.Error()
	}
	return verrs[0].Translate(trans)
}
