package strata_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/strata"
	"github.com/pthm/strata/schema"
	"github.com/pthm/strata/test/testutil"
)

type hookLog struct {
	events []string
}

func (l *hookLog) hook(name string) strata.SaveHook {
	return func(_ context.Context, ev *strata.SaveEvent) error {
		l.events = append(l.events, fmt.Sprintf("%s:%s:%s", name, ev.Phase, ev.Type.Name))
		return nil
	}
}

func TestSaveHooksOrder(t *testing.T) {
	e := newEnv(t)
	var log hookLog
	e.eng.RegisterOnSave(log.hook("all"), strata.TypeAll)
	e.eng.RegisterOnSave(log.hook("invoice"), testutil.Invoice)
	e.eng.RegisterOnSave(log.hook("all2"), strata.TypeAll)

	c := e.core(t, alice)
	e.save(t, c, customer("C1", "Acme"))
	e.save(t, c, invoice("I-1", "C1"))

	assert.Equal(t, []string{
		"all:before_save:CUSTOMER",
		"all2:before_save:CUSTOMER",
		"all:after_save:CUSTOMER",
		"all2:after_save:CUSTOMER",
		"all:before_save:INVOICE",
		"invoice:before_save:INVOICE",
		"all2:before_save:INVOICE",
		"all:after_save:INVOICE",
		"invoice:after_save:INVOICE",
		"all2:after_save:INVOICE",
	}, log.events)
}

func TestSaveHookModifiesObject(t *testing.T) {
	e := newEnv(t)
	e.eng.RegisterOnSave(func(_ context.Context, ev *strata.SaveEvent) error {
		if ev.Phase == strata.BeforeSave {
			ev.Object.Set("name", schema.Text("Stamped"))
		}
		return nil
	}, testutil.Customer)

	in := customer("C1", "Acme")
	saved := e.save(t, e.core(t, alice), in)
	assert.Equal(t, schema.Text("Stamped"), saved.Get("name"))
	assert.Equal(t, schema.Text("Acme"), in.Get("name"), "caller's object is untouched")
}

func TestSaveHookVeto(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	errVeto := errors.New("invoices are frozen")

	var after int
	e.eng.RegisterOnSave(func(_ context.Context, ev *strata.SaveEvent) error {
		switch ev.Phase {
		case strata.BeforeSave:
			return errVeto
		case strata.AfterSave:
			after++
		}
		return nil
	}, testutil.Invoice)

	c := e.core(t, alice)
	_, err := e.eng.Save(ctx, c, invoice("I-1", "C1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errVeto)
	assert.Zero(t, after)

	n, err := e.eng.GetCount(ctx, c, byNumber())
	require.NoError(t, err)
	assert.Zero(t, n)

	// Other types are not affected.
	e.save(t, c, customer("C1", "Acme"))
}

func TestUnregister(t *testing.T) {
	e := newEnv(t)
	var log hookLog
	id := e.eng.RegisterOnSave(log.hook("h"), strata.TypeAll)

	c := e.core(t, alice)
	e.save(t, c, customer("C1", "Acme"))
	require.Len(t, log.events, 2)

	assert.True(t, e.eng.Unregister(id))
	assert.False(t, e.eng.Unregister(id))
	e.save(t, c, customer("C2", "Globex"))
	assert.Len(t, log.events, 2)
}

func TestDeleteHooks(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	i1, i2 := e.seed(t)

	var log hookLog
	var deleted []int64
	e.eng.RegisterOnSave(log.hook("h"), testutil.Invoice)
	e.eng.RegisterOnSave(func(_ context.Context, ev *strata.SaveEvent) error {
		switch ev.Phase {
		case strata.BeforeDelete:
			if ev.Object.LogicalID == i2.LogicalID {
				return errors.New("keep I-2")
			}
		case strata.AfterDelete:
			deleted = append(deleted, ev.Object.LogicalID)
		}
		return nil
	}, testutil.Invoice)

	c := e.core(t, alice)
	require.NoError(t, e.eng.Delete(ctx, c, testutil.Invoice, i1.LogicalID))
	assert.Equal(t, []string{"h:before_delete:INVOICE", "h:after_delete:INVOICE"}, log.events)
	assert.Equal(t, []int64{i1.LogicalID}, deleted)

	err := e.eng.Delete(ctx, c, testutil.Invoice, i2.LogicalID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "keep I-2")

	got, err := e.eng.GetObject(ctx, c, testutil.Invoice, i2.LogicalID)
	require.NoError(t, err)
	assert.True(t, got.IsCurrent())
}

func TestHooksSkipDeniedPrincipals(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	i1, _ := e.seed(t)

	var log hookLog
	e.eng.RegisterOnSave(log.hook("h"), strata.TypeAll)

	tests := []struct {
		name string
		p    strata.Principal
		op   func(c *strata.Core) error
	}{
		{"save without grants", carol, func(c *strata.Core) error {
			_, err := e.eng.Save(ctx, c, invoice("I-3", "C1"))
			return err
		}},
		{"save with read only", bob, func(c *strata.Core) error {
			_, err := e.eng.Save(ctx, c, customer("C1", "Renamed"))
			return err
		}},
		{"delete without grants", carol, func(c *strata.Core) error {
			return e.eng.Delete(ctx, c, testutil.Invoice, i1.LogicalID)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.op(e.core(t, tt.p))
			assert.True(t, strata.IsAuthorizationDeniedErr(err), "err = %v", err)
		})
	}
	if len(log.events) != 0 {
		t.Errorf("hooks ran for denied principals: %v", log.events)
	}
}

func TestHookUsesCore(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.seed(t)

	// A hook may read through the Core that triggered it.
	e.eng.RegisterOnSave(func(ctx context.Context, ev *strata.SaveEvent) error {
		if ev.Phase != strata.BeforeSave {
			return nil
		}
		_, err := e.eng.GetObjectBy(ctx, ev.Core, testutil.Customer, "code", ev.Object.Get("customer"))
		if strata.IsObjectNotFoundErr(err) {
			return fmt.Errorf("unknown customer %s", ev.Object.Get("customer"))
		}
		return err
	}, testutil.Invoice)

	c := e.core(t, alice)
	e.save(t, c, invoice("I-3", "C1"))
	_, err := e.eng.Save(ctx, c, invoice("I-4", "C9"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown customer C9")
}

func TestPhaseString(t *testing.T) {
	tests := []struct {
		p    strata.Phase
		want string
	}{
		{strata.BeforeSave, "before_save"},
		{strata.AfterSave, "after_save"},
		{strata.BeforeDelete, "before_delete"},
		{strata.AfterDelete, "after_delete"},
		{strata.Phase(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.p.String(); got != tt.want {
			t.Errorf("Phase(%d).String() = %q, want %q", tt.p, got, tt.want)
		}
	}
}
