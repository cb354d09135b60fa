package pids

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/handles"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/logging"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/models"
)

type fakeHandleClient struct {
	assigned map[string]string
	err      error
	calls    [][]handles.Request
}

func (f *fakeHandleClient) Assign(_ context.Context, requests []handles.Request) (map[string]string, error) {
	f.calls = append(f.calls, requests)
	if f.err != nil {
		return nil, f.err
	}
	out := map[string]string{}
	for _, req := range requests {
		if pid, ok := f.assigned[req.NaturalKey]; ok {
			out[req.NaturalKey] = pid
		}
	}
	return out, nil
}

func TestResolveMergesExistingAndAssigned(t *testing.T) {
	client := &fakeHandleClient{assigned: map[string]string{
		"phys-2":                    "20.5000/s2",
		"https://img.example.org/2": "20.5000/m2",
	}}
	c := NewCoordinator(client, logging.NewNoop())

	events := []models.SpecimenEvent{
		{PhysicalSpecimenID: "phys-1", MediaEvents: []models.MediaEvent{{AccessURI: "https://img.example.org/1"}}},
		{PhysicalSpecimenID: "phys-2", MediaEvents: []models.MediaEvent{{AccessURI: "https://img.example.org/2"}}},
	}
	res := c.Resolve(context.Background(), events,
		[]models.SpecimenEvent{events[1]},
		[]models.MediaEvent{{AccessURI: "https://img.example.org/2"}},
		map[string]string{"phys-1": "20.5000/s1"},
		map[string]string{"https://img.example.org/1": "20.5000/m1"},
	)

	assert.Equal(t, "20.5000/s1", res.SpecimenPIDs["phys-1"])
	assert.Equal(t, "20.5000/s2", res.SpecimenPIDs["phys-2"])
	assert.Equal(t, "20.5000/m1", res.MediaPIDs["https://img.example.org/1"])
	assert.Equal(t, "20.5000/m2", res.MediaPIDs["https://img.example.org/2"])
	assert.Len(t, client.calls, 2, "one bulk call per kind")
}

func TestResolveCrossReferenceIsSymmetric(t *testing.T) {
	client := &fakeHandleClient{assigned: map[string]string{
		"phys-1": "20.5000/s1",
		"phys-2": "20.5000/s2",
		"shared": "20.5000/m1",
	}}
	c := NewCoordinator(client, logging.NewNoop())

	// Two specimens referencing the same media object keeps the full fan-out.
	events := []models.SpecimenEvent{
		{PhysicalSpecimenID: "phys-1", MediaEvents: []models.MediaEvent{{AccessURI: "shared"}}},
		{PhysicalSpecimenID: "phys-2", MediaEvents: []models.MediaEvent{{AccessURI: "shared"}}},
	}
	res := c.Resolve(context.Background(), events, events,
		[]models.MediaEvent{{AccessURI: "shared"}}, nil, nil)

	require.Contains(t, res.Specimens, "phys-1")
	require.Contains(t, res.Specimens, "phys-2")
	require.Contains(t, res.Media, "shared")

	assert.True(t, res.Specimens["phys-1"].RelatedPIDs["20.5000/m1"])
	assert.True(t, res.Specimens["phys-2"].RelatedPIDs["20.5000/m1"])
	assert.True(t, res.Media["shared"].RelatedPIDs["20.5000/s1"])
	assert.True(t, res.Media["shared"].RelatedPIDs["20.5000/s2"])
}

func TestResolveAssignmentFailureIsNotFatal(t *testing.T) {
	client := &fakeHandleClient{err: errors.New("identifier service down")}
	c := NewCoordinator(client, logging.NewNoop())

	events := []models.SpecimenEvent{{PhysicalSpecimenID: "phys-1"}}
	res := c.Resolve(context.Background(), events, events, nil, nil, nil)

	assert.Empty(t, res.SpecimenPIDs)
	assert.Empty(t, res.Specimens)
}

func TestFilterCommitted(t *testing.T) {
	res := &Resolution{
		Media: map[string]models.PidProcessResult{
			"shared": {OwnPID: "20.5000/m1", RelatedPIDs: map[string]bool{
				"20.5000/s1": true,
				"20.5000/s2": true,
			}},
		},
	}

	res.FilterCommitted(map[string]bool{"20.5000/s1": true})

	assert.True(t, res.Media["shared"].RelatedPIDs["20.5000/s1"])
	assert.False(t, res.Media["shared"].RelatedPIDs["20.5000/s2"])
	assert.Len(t, res.Media["shared"].RelatedPIDs, 1)
}
