package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/osvaldoandrade/netdemo/internal/params"
	"github.com/osvaldoandrade/netdemo/pkg/domain"
)

func echoRecipe(id string) domain.DemoRecipe {
	return domain.DemoRecipe{
		ID:               id,
		Name:             "Echo " + id,
		Category:         "test",
		MaxRuntime:       5,
		ParametersSchema: map[string]any{"type": "object"},
	}
}

func echoValidate(raw map[string]any) (any, error) {
	d := params.NewDecoder(raw)
	n := d.RequiredInt("n", 1, 10)
	if err := d.Err(); err != nil {
		return nil, err
	}
	return n, nil
}

func echoExecute(_ context.Context, p any) domain.ExecutionResult {
	return domain.ExecutionResult{Success: true, Data: map[string]any{"n": p.(int)}, Metadata: map[string]any{}}
}

func TestRegisterAndLookup(t *testing.T) {
	r := New()
	if err := r.Register(echoRecipe("b"), echoExecute, echoValidate); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(echoRecipe("a"), echoExecute, echoValidate); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !r.Exists("a") || r.Exists("zzz") {
		t.Fatalf("Exists mismatch")
	}
	if _, ok := r.Get("zzz"); ok {
		t.Fatalf("Get returned unknown demo")
	}
	list := r.List()
	if len(list) != 2 || list[0].ID != "a" || list[1].ID != "b" {
		t.Fatalf("unexpected list order: %+v", list)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	r := New()
	r.MustRegister(echoRecipe("a"), echoExecute, echoValidate)
	err := r.Register(echoRecipe("a"), echoExecute, echoValidate)
	var dup *domain.DuplicateDemoError
	if !errors.As(err, &dup) || dup.ID != "a" {
		t.Fatalf("expected DuplicateDemoError, got %v", err)
	}
}

func TestRegisterRejectsBadRecipe(t *testing.T) {
	r := New()
	bad := echoRecipe("a")
	bad.MaxRuntime = 0
	if err := r.Register(bad, echoExecute, echoValidate); err == nil {
		t.Fatalf("expected recipe validation error")
	}
}

func TestExecute(t *testing.T) {
	r := New()
	r.MustRegister(echoRecipe("a"), echoExecute, echoValidate)
	ctx := context.Background()

	res, err := r.Execute(ctx, "a", map[string]any{"n": 3})
	if err != nil || !res.Success || res.Data["n"] != 3 {
		t.Fatalf("Execute: res=%+v err=%v", res, err)
	}

	_, err = r.Execute(ctx, "missing", nil)
	var nf *domain.NotFoundError
	if !errors.As(err, &nf) || nf.Kind != "demo" {
		t.Fatalf("expected NotFoundError, got %v", err)
	}

	_, err = r.Execute(ctx, "a", map[string]any{"n": 99})
	var ve *domain.ValidationError
	if !errors.As(err, &ve) || ve.Field() != "n" {
		t.Fatalf("expected ValidationError on n, got %v", err)
	}
}

func TestValidateUnknownDemo(t *testing.T) {
	r := New()
	if _, err := r.Validate("nope", nil); err == nil {
		t.Fatalf("expected error")
	}
}
