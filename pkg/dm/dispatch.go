package dm

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/taleforge/dungeonmaster/pkg/dm/model"
)

// Dispatcher runs the matching Processor for each
// (classification, entities) pair, embarrassingly parallel across
// pairs. A processor failure (panic) falls back to a default task so
// the turn is never lost to one bad processor.
type Dispatcher struct{}

// NewDispatcher builds a Dispatcher.
func NewDispatcher() *Dispatcher { return &Dispatcher{} }

// Dispatch runs every (classified, entities) pair concurrently and
// returns one DispatchedTask per pair, in input order.
func (d *Dispatcher) Dispatch(classifieds []model.ClassifiedInput, entities []model.ExtractedEntity) []model.DispatchedTask {
	out := make([]model.DispatchedTask, len(classifieds))
	var wg sync.WaitGroup
	for i := range classifieds {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out[i] = d.dispatchOne(classifieds[i], entities[i])
		}(i)
	}
	wg.Wait()
	return out
}

func (d *Dispatcher) dispatchOne(classified model.ClassifiedInput, entity model.ExtractedEntity) (task model.DispatchedTask) {
	defer func() {
		if r := recover(); r != nil {
			task = fallbackTask(classified)
		}
	}()

	proc := ProcessorFor(classified.InputType)
	payload := proc.Process(classified, entity)
	task = model.DispatchedTask{
		TaskID:              uuid.NewString(),
		InputType:           classified.InputType,
		ClassifiedInput:     classified,
		Entities:            entity,
		Payload:             payload,
		RequiresNPCResponse: proc.RequiresNPCResponse(classified, entity),
	}
	if npcID, ok := proc.TargetNPC(classified, entity); ok {
		task.TargetNPCID = npcID
	}
	task.TimeCost = proc.TimeCost(payload)
	return task
}

func fallbackTask(classified model.ClassifiedInput) model.DispatchedTask {
	return model.DispatchedTask{
		TaskID:          uuid.NewString(),
		InputType:       classified.InputType,
		ClassifiedInput: classified,
		Payload:         model.TaskPayload{Kind: classified.InputType},
		TimeCost:        60 * time.Second,
	}
}
