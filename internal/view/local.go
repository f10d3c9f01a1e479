package view

import (
	"slices"

	"github.com/Joseda-hg/tasksync/internal/model"
)

// The methods below patch the snapshot in place for optimistic updates. They
// bump Version and notify listeners but never touch the request sequence, so
// a fetch already in flight still wins when it lands. A view built WithSort
// stays ordered after every patch.

// Get returns the task with id from the current snapshot.
func (v *View) Get(id int64) (model.Task, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, task := range v.state.Tasks {
		if task.ID == id {
			return task.Clone(), true
		}
	}
	return model.Task{}, false
}

// Replace swaps the task with the same id and returns the previous copy.
func (v *View) Replace(task model.Task) (model.Task, bool) {
	v.mu.Lock()
	if v.disposed {
		v.mu.Unlock()
		return model.Task{}, false
	}
	for i, existing := range v.state.Tasks {
		if existing.ID != task.ID {
			continue
		}
		tasks := append([]model.Task(nil), v.state.Tasks...)
		tasks[i] = task.Clone()
		v.sortLocked(tasks)
		v.state.Tasks = tasks
		v.state.Version++
		v.mu.Unlock()
		v.notify()
		return existing, true
	}
	v.mu.Unlock()
	return model.Task{}, false
}

// Remove drops the task with id and returns it with its former index.
func (v *View) Remove(id int64) (model.Task, int, bool) {
	v.mu.Lock()
	if v.disposed {
		v.mu.Unlock()
		return model.Task{}, -1, false
	}
	for i, existing := range v.state.Tasks {
		if existing.ID != id {
			continue
		}
		tasks := make([]model.Task, 0, len(v.state.Tasks)-1)
		tasks = append(tasks, v.state.Tasks[:i]...)
		tasks = append(tasks, v.state.Tasks[i+1:]...)
		v.state.Tasks = tasks
		v.state.Version++
		v.mu.Unlock()
		v.notify()
		return existing, i, true
	}
	v.mu.Unlock()
	return model.Task{}, -1, false
}

func (v *View) sortLocked(tasks []model.Task) {
	if v.less != nil {
		slices.SortStableFunc(tasks, v.less)
	}
}

// Insert puts task at index, clamped to the snapshot bounds, before the view
// order is reapplied. A task whose id is already present is replaced instead.
func (v *View) Insert(task model.Task, index int) {
	v.mu.Lock()
	if v.disposed {
		v.mu.Unlock()
		return
	}
	for _, existing := range v.state.Tasks {
		if existing.ID == task.ID {
			v.mu.Unlock()
			v.Replace(task)
			return
		}
	}
	index = max(0, min(index, len(v.state.Tasks)))
	tasks := make([]model.Task, 0, len(v.state.Tasks)+1)
	tasks = append(tasks, v.state.Tasks[:index]...)
	tasks = append(tasks, task.Clone())
	tasks = append(tasks, v.state.Tasks[index:]...)
	v.sortLocked(tasks)
	v.state.Tasks = tasks
	v.state.Version++
	v.mu.Unlock()
	v.notify()
}
