package lifecycle

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeComponent struct {
	name     string
	startErr error
	log      *[]string
}

func (c *fakeComponent) Start(context.Context) error {
	*c.log = append(*c.log, "start:"+c.name)
	return c.startErr
}

func (c *fakeComponent) Stop(context.Context) error {
	*c.log = append(*c.log, "stop:"+c.name)
	return nil
}

func (c *fakeComponent) Name() string { return c.name }

func TestManager_StartsDependenciesFirstStopsInReverse(t *testing.T) {
	var log []string
	store := &fakeComponent{name: "store", log: &log}
	queue := &fakeComponent{name: "queue", log: &log}
	worker := &fakeComponent{name: "worker", log: &log}

	m := NewManager()
	require.NoError(t, m.Register(store))
	require.NoError(t, m.Register(queue))
	require.NoError(t, m.Register(worker, store, queue))

	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Stop(context.Background()))

	assert.Equal(t, []string{
		"start:store", "start:queue", "start:worker",
		"stop:worker", "stop:queue", "stop:store",
	}, log)
}

func TestManager_FailedStartRollsBack(t *testing.T) {
	var log []string
	store := &fakeComponent{name: "store", log: &log}
	worker := &fakeComponent{name: "worker", startErr: errors.New("port in use"), log: &log}

	m := NewManager()
	require.NoError(t, m.Register(store))
	require.NoError(t, m.Register(worker, store))

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker")
	assert.Equal(t, []string{"start:store", "start:worker", "stop:store"}, log)
}

func TestManager_RegisterValidation(t *testing.T) {
	var log []string
	store := &fakeComponent{name: "store", log: &log}
	orphan := &fakeComponent{name: "orphan", log: &log}

	m := NewManager()
	assert.Error(t, m.Register(nil))
	require.NoError(t, m.Register(store))
	assert.Error(t, m.Register(store), "duplicate registration")
	assert.Error(t, m.Register(orphan, &fakeComponent{name: "ghost", log: &log}), "unknown dependency")
}
