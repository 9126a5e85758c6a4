package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AlexanderGrooff/converge/pkg/common"
	"github.com/AlexanderGrooff/converge/pkg/metrics"
	"github.com/AlexanderGrooff/converge/pkg/modules"
	"github.com/AlexanderGrooff/converge/pkg/playbook"
	"github.com/AlexanderGrooff/converge/pkg/template"
	"github.com/AlexanderGrooff/converge/pkg/vars"
)

const (
	defaultRetries = 3
	defaultDelay   = 5 * time.Second
	// maxHandlerRounds bounds handlers notifying each other during one flush.
	maxHandlerRounds = 10

	kindTask    = "TASK"
	kindHandler = "RUNNING HANDLER"

	noLogMessage = "the output has been hidden due to the fact that 'no_log: true' was specified for this result"
)

// TaskResult is the outcome of one task on one host.
type TaskResult struct {
	Host    string
	Task    string
	Module  string
	Status  TaskStatus
	Ignored bool
	// Result is the value stored by register.
	Result   map[string]interface{}
	Err      error
	Duration time.Duration

	hasLoop bool
	items   []itemOutcome
	silent  bool
}

// forHost copies a run_once result for another host of the batch.
func (t *TaskResult) forHost(host string) *TaskResult {
	copied := *t
	copied.Host = host
	copied.Result = vars.CopyMap(t.Result)
	return &copied
}

type itemOutcome struct {
	item   interface{}
	status TaskStatus
	data   map[string]interface{}
	raw    modules.Result
	err    error
}

func failedOutcome(err error, data map[string]interface{}) itemOutcome {
	out := vars.CopyMap(data)
	out["failed"] = true
	out["msg"] = err.Error()
	if _, ok := out["changed"]; !ok {
		out["changed"] = false
	}
	return itemOutcome{status: TaskFailed, data: out, err: err}
}

func skippedData() map[string]interface{} {
	return map[string]interface{}{
		"changed":     false,
		"skipped":     true,
		"skip_reason": "Conditional result was False",
	}
}

// withRegister exposes a result under the register name for changed_when,
// failed_when and until.
func withRegister(v map[string]interface{}, register string, data map[string]interface{}) map[string]interface{} {
	if register == "" {
		return v
	}
	out := make(map[string]interface{}, len(v)+1)
	for k, val := range v {
		out[k] = val
	}
	out[register] = data
	return out
}

func actionRole(a *playbook.Action, scope taskScope) *playbook.Role {
	if a.Role != nil {
		return a.Role
	}
	return scope.role
}

func (r *playRun) resolve(hs *hostState, taskVars map[string]interface{}, scope taskScope, role *playbook.Role) map[string]interface{} {
	ts := vars.TaskScope{
		Play:   r.graph.PlayVars,
		Task:   taskVars,
		Blocks: scope.blocks,
	}
	if role != nil {
		ts.RoleDefaults = role.Defaults
		ts.Role = role.Vars
	}
	return r.resolver.Resolve(hs.info, ts, hs.overlay)
}

func (r *playRun) become(a *playbook.Action, scope taskScope) (bool, string) {
	play := r.graph.Play
	become := play.Become || r.engine.Become
	if scope.become != nil {
		become = *scope.become
	}
	if a.Become != nil {
		become = *a.Become
	}
	user := r.engine.BecomeUser
	for _, candidate := range []string{play.BecomeUser, scope.becomeUser, a.BecomeUser} {
		if candidate != "" {
			user = candidate
		}
	}
	if user == "" {
		user = "root"
	}
	return become, user
}

func (r *playRun) taskContext(ctx context.Context, a *playbook.Action) (context.Context, context.CancelFunc, time.Duration) {
	timeout := time.Duration(a.Timeout) * time.Second
	if timeout == 0 {
		timeout = r.engine.TaskTimeout
	}
	if timeout <= 0 {
		ctx, cancel := context.WithCancel(ctx)
		return ctx, cancel, 0
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, cancel, timeout
}

// runStep runs an action picked by the cursor.
func (r *playRun) runStep(ctx context.Context, hs *hostState, a *playbook.Action, scope taskScope) (*TaskResult, error) {
	if a.Module == "meta" {
		return r.runMeta(ctx, hs, a, scope)
	}
	if a.Implicit && a.Module == "setup" && r.engine.GatherFacts == playbook.GatherSmart {
		if _, cached := r.engine.Facts.Get(hs.host.Name); cached {
			common.LogDebug("Facts already cached, not gathering", map[string]interface{}{"host": hs.host.Name})
			return &TaskResult{Host: hs.host.Name, Task: a.String(), Module: a.Module, Status: TaskOK, silent: true}, nil
		}
	}
	return r.runAction(ctx, hs, a, scope, kindTask)
}

// runAction computes the task result, once per batch for run_once tasks,
// and applies it to the host.
func (r *playRun) runAction(ctx context.Context, hs *hostState, a *playbook.Action, scope taskScope, kind string) (*TaskResult, error) {
	var res *TaskResult
	if a.RunOnce {
		entry := r.onceFor(a)
		entry.once.Do(func() {
			entry.result, entry.err = r.compute(ctx, hs, a, scope)
		})
		if entry.err != nil {
			return nil, entry.err
		}
		res = entry.result.forHost(hs.host.Name)
	} else {
		var err error
		if res, err = r.compute(ctx, hs, a, scope); err != nil {
			return nil, err
		}
	}
	r.apply(hs, a, scope, res, kind)
	return res, nil
}

// compute evaluates conditions and loops and invokes the module. It does not
// touch host state so run_once results can be shared.
func (r *playRun) compute(ctx context.Context, hs *hostState, a *playbook.Action, scope taskScope) (*TaskResult, error) {
	start := r.engine.Clock.Now()
	res := &TaskResult{Host: hs.host.Name, Task: a.String(), Module: a.Module}
	v := r.resolve(hs, a.Vars, scope, actionRole(a, scope))
	conditions := append(append([]string(nil), scope.when...), a.When...)

	if a.Loop == nil {
		run, err := template.EvaluateCondition(r.engine.Evaluator, conditions, v)
		if err != nil {
			out := failedOutcome(err, nil)
			res.Status, res.Result, res.Err = out.status, out.data, err
			return res, nil
		}
		if !run {
			res.Status, res.Result = TaskSkipped, skippedData()
			return res, nil
		}
	}

	taskCtx, cancel, timeout := r.taskContext(ctx, a)
	defer cancel()

	if a.Loop == nil {
		out, err := r.invoke(ctx, taskCtx, timeout, hs, a, scope, v)
		if err != nil {
			return nil, err
		}
		res.items = []itemOutcome{out}
		res.Status, res.Result, res.Err = out.status, out.data, out.err
		res.Duration = r.engine.Clock.Now().Sub(start)
		return res, nil
	}

	res.hasLoop = true
	items, err := r.loopItems(a, v)
	if err != nil {
		out := failedOutcome(err, nil)
		res.Status, res.Result, res.Err = out.status, out.data, err
		return res, nil
	}
	loopVar := a.LoopVar
	if loopVar == "" {
		loopVar = "item"
	}
	for i, item := range items {
		iv := make(map[string]interface{}, len(v)+3)
		for k, val := range v {
			iv[k] = val
		}
		iv[loopVar] = item
		iv["ansible_loop_var"] = loopVar
		iv["ansible_loop"] = map[string]interface{}{
			"index":     i + 1,
			"index0":    i,
			"first":     i == 0,
			"last":      i == len(items)-1,
			"length":    len(items),
			"revindex":  len(items) - i,
			"revindex0": len(items) - i - 1,
		}

		var out itemOutcome
		run, err := template.EvaluateCondition(r.engine.Evaluator, conditions, iv)
		switch {
		case err != nil:
			out = failedOutcome(err, nil)
		case !run:
			out = itemOutcome{status: TaskSkipped, data: skippedData()}
		default:
			if out, err = r.invoke(ctx, taskCtx, timeout, hs, a, scope, iv); err != nil {
				return nil, err
			}
		}
		out.item = item
		out.data[loopVar] = item
		out.data["ansible_loop_var"] = loopVar
		res.items = append(res.items, out)
		if out.status == TaskUnreachable {
			break
		}
	}
	r.aggregate(res)
	res.Duration = r.engine.Clock.Now().Sub(start)
	return res, nil
}

// aggregate folds loop item outcomes into the task status and registered value.
func (r *playRun) aggregate(res *TaskResult) {
	results := make([]interface{}, 0, len(res.items))
	changed, failed, unreachable := false, false, false
	skipped := true
	for _, it := range res.items {
		results = append(results, it.data)
		switch it.status {
		case TaskChanged:
			changed = true
		case TaskFailed:
			failed = true
			if res.Err == nil {
				res.Err = it.err
			}
		case TaskUnreachable:
			unreachable = true
			if res.Err == nil {
				res.Err = it.err
			}
		}
		if it.status != TaskSkipped {
			skipped = false
		}
	}

	res.Result = map[string]interface{}{
		"results": results,
		"changed": changed,
		"failed":  failed,
		"skipped": skipped,
	}
	switch {
	case unreachable:
		res.Status = TaskUnreachable
		res.Result["unreachable"] = true
		res.Result["msg"] = "Host became unreachable during the loop"
	case failed:
		res.Status = TaskFailed
		res.Result["msg"] = "One or more items failed"
	case skipped:
		res.Status = TaskSkipped
		res.Result["msg"] = "All items skipped"
		if len(res.items) == 0 {
			res.Result["skipped_reason"] = "No items in the list"
		}
	case changed:
		res.Status = TaskChanged
		res.Result["msg"] = "All items completed"
	default:
		res.Status = TaskOK
		res.Result["msg"] = "All items completed"
	}
}

func (r *playRun) loopItems(a *playbook.Action, v map[string]interface{}) ([]interface{}, error) {
	value, err := template.TemplateValue(r.engine.Evaluator, a.Loop, v)
	if err != nil {
		return nil, err
	}
	items, ok := common.InterfaceToSlice(value)
	if !ok {
		return nil, fmt.Errorf("invalid data passed to 'loop', it requires a list, got this instead: %v", value)
	}
	return items, nil
}

// invoke templates the arguments and calls the module, retrying until the
// until condition holds. parent is the play context; ctx carries the task timeout.
func (r *playRun) invoke(parent, ctx context.Context, timeout time.Duration, hs *hostState, a *playbook.Action, scope taskScope, v map[string]interface{}) (itemOutcome, error) {
	args, err := template.TemplateArgs(r.engine.Evaluator, a.Args, v)
	if err != nil {
		return failedOutcome(err, nil), nil
	}

	become, becomeUser := r.become(a, scope)
	check := r.engine.Check
	if a.CheckMode != nil {
		check = *a.CheckMode
	}
	dir := r.graph.Play.Dir
	if role := actionRole(a, scope); role != nil {
		dir = role.Path
	}
	req := modules.Request{
		Host:       hs.host,
		Module:     a.Module,
		Args:       args,
		Vars:       v,
		Check:      check,
		Diff:       r.engine.Diff,
		Become:     become,
		BecomeUser: becomeUser,
		Dir:        dir,
	}

	retries := 0
	delay := time.Duration(0)
	if len(a.Until) > 0 {
		retries = defaultRetries
		if a.Retries != nil {
			retries = *a.Retries
		}
		delay = defaultDelay
		if a.Delay != nil {
			delay = time.Duration(*a.Delay) * time.Second
		}
	}

	for attempt := 1; ; attempt++ {
		result, err := r.call(ctx, req)
		if err != nil {
			if parent.Err() != nil {
				return itemOutcome{}, parent.Err()
			}
			if ctx.Err() != nil {
				return timedOut(timeout), nil
			}
			return failedOutcome(err, nil), nil
		}

		out := r.evaluate(a, v, result)
		if len(a.Until) == 0 || out.status == TaskUnreachable {
			return out, nil
		}
		out.data["attempts"] = attempt
		done, err := template.EvaluateCondition(r.engine.Evaluator, a.Until, withRegister(v, a.Register, out.data))
		if err != nil {
			return failedOutcome(err, out.data), nil
		}
		if done {
			return out, nil
		}
		if attempt > retries {
			exhausted := fmt.Errorf("%w after %d attempts", ErrRetriesExhausted, attempt)
			out.status = TaskFailed
			out.data["failed"] = true
			if _, hasMsg := out.data["msg"]; !hasMsg {
				out.data["msg"] = exhausted.Error()
			}
			out.err = exhausted
			return out, nil
		}

		r.engine.Output.Retry(hs.host.Name, a.String(), retries-attempt+1)
		if err := r.engine.Clock.Sleep(ctx, delay); err != nil {
			if parent.Err() != nil {
				return itemOutcome{}, parent.Err()
			}
			return timedOut(timeout), nil
		}
	}
}

type invocation struct {
	result modules.Result
	err    error
}

// call runs the invoker but returns as soon as ctx is done, even when the
// module does not watch ctx. A late result is dropped.
func (r *playRun) call(ctx context.Context, req modules.Request) (modules.Result, error) {
	done := make(chan invocation, 1)
	go func() {
		result, err := r.engine.Invoker.Invoke(ctx, req)
		done <- invocation{result: result, err: err}
	}()
	select {
	case inv := <-done:
		return inv.result, inv.err
	case <-ctx.Done():
		return modules.Result{}, ctx.Err()
	}
}

func timedOut(timeout time.Duration) itemOutcome {
	err := fmt.Errorf("%w after %s", ErrTaskTimeout, timeout)
	return itemOutcome{
		status: TaskUnreachable,
		data: map[string]interface{}{
			"changed":     false,
			"unreachable": true,
			"msg":         fmt.Sprintf("The task exceeded its timeout of %s", timeout),
		},
		err: err,
	}
}

// evaluate applies changed_when and failed_when to a module result.
func (r *playRun) evaluate(a *playbook.Action, v map[string]interface{}, result modules.Result) itemOutcome {
	data := result.AsMap()
	out := itemOutcome{status: statusOf(result.Status), data: data, raw: result}
	switch out.status {
	case TaskUnreachable:
		out.err = errors.New(result.Msg)
		return out
	case TaskFailed:
		msg := result.Msg
		if msg == "" {
			msg = "module reported failure"
		}
		out.err = errors.New(msg)
	}

	evalVars := withRegister(v, a.Register, data)
	if len(a.ChangedWhen) > 0 {
		changed, err := template.EvaluateCondition(r.engine.Evaluator, a.ChangedWhen, evalVars)
		if err != nil {
			return failedOutcome(err, data)
		}
		data["changed"] = changed
		if out.status == TaskOK || out.status == TaskChanged {
			out.status = TaskOK
			if changed {
				out.status = TaskChanged
			}
		}
	}
	if len(a.FailedWhen) > 0 {
		isFailed, err := template.EvaluateCondition(r.engine.Evaluator, a.FailedWhen, evalVars)
		if err != nil {
			return failedOutcome(err, data)
		}
		data["failed_when_result"] = isFailed
		data["failed"] = isFailed
		switch {
		case isFailed:
			out.status = TaskFailed
			if _, hasMsg := data["msg"]; !hasMsg {
				data["msg"] = "failed_when condition met"
			}
			out.err = fmt.Errorf("failed_when condition met: %s", strings.Join(a.FailedWhen, " and "))
		case out.status == TaskFailed:
			out.status = TaskOK
			if changed, _ := data["changed"].(bool); changed {
				out.status = TaskChanged
			}
			out.err = nil
		}
	}
	return out
}

// apply records a computed result for the host: facts, registered values,
// notifications, counters and output.
func (r *playRun) apply(hs *hostState, a *playbook.Action, scope taskScope, res *TaskResult, kind string) {
	host := hs.host.Name
	if res.silent {
		return
	}

	for _, it := range res.items {
		if it.status != TaskOK && it.status != TaskChanged {
			continue
		}
		if len(it.raw.Facts) > 0 {
			if _, err := r.engine.Facts.Merge(host, it.raw.Facts); err != nil {
				common.LogWarn("Failed to store facts", map[string]interface{}{"host": host, "error": err.Error()})
			}
		}
		for name, value := range it.raw.HostVars {
			hs.overlay.SetFact(name, value)
		}
	}
	if a.Register != "" {
		hs.overlay.Set(a.Register, res.Result)
	}

	if res.Status == TaskChanged && len(a.Notify) > 0 {
		if err := r.queue.NotifyAll(host, a.Notify); err != nil {
			res.Status = TaskFailed
			res.Err = err
			res.Result["failed"] = true
			res.Result["msg"] = err.Error()
		}
	}

	if res.Status == TaskFailed {
		if a.IgnoreErrors || scope.ignoreErrors {
			res.Ignored = true
			res.Err = &IgnoredTaskError{Host: host, Task: res.Task, Err: res.Err}
		} else {
			res.Err = &TaskError{Host: host, Task: res.Task, Err: res.Err}
		}
	}
	if res.Status == TaskUnreachable {
		res.Err = &TaskError{Host: host, Task: res.Task, Err: res.Err}
	}

	r.engine.recap.countTask(host, res.Status)
	r.stats.countTask(host, res.Status)
	r.report(hs, a, res, kind)

	become, becomeUser := r.become(a, scope)
	runAs := ""
	if become {
		runAs = becomeUser
	}
	r.engine.Recorder.TaskFinished(metrics.TaskLabels{
		Task:   res.Task,
		Module: res.Module,
		Host:   host,
		RunAs:  runAs,
	}, string(res.Status), res.Duration)

	common.LogDebug("Task finished", map[string]interface{}{
		"host":     host,
		"task":     res.Task,
		"status":   string(res.Status),
		"duration": res.Duration.String(),
	})
}

func (r *playRun) report(hs *hostState, a *playbook.Action, res *TaskResult, kind string) {
	out := r.engine.Output
	host := hs.host.Name
	out.Task(kind, res.Task)

	display := func(data map[string]interface{}) map[string]interface{} {
		if a != nil && a.NoLog {
			return map[string]interface{}{"censored": noLogMessage}
		}
		return data
	}
	showData := a != nil && a.Module == "debug"

	if res.hasLoop {
		for _, it := range res.items {
			out.HostResult(host, res.Task, it.status, it.item, true, false, display(it.data), showData)
			if r.engine.Diff && it.raw.Diff != nil {
				out.Diff(host, it.raw.Diff.Unified())
			}
		}
		if res.Status == TaskFailed {
			out.HostResult(host, res.Task, res.Status, nil, false, res.Ignored, display(res.Result), false)
		}
		return
	}
	out.HostResult(host, res.Task, res.Status, nil, false, res.Ignored, display(res.Result), showData)
	for _, it := range res.items {
		if r.engine.Diff && it.raw.Diff != nil {
			out.Diff(host, it.raw.Diff.Unified())
		}
	}
}

// runMeta handles meta directives, which never reach a module.
func (r *playRun) runMeta(ctx context.Context, hs *hostState, a *playbook.Action, scope taskScope) (*TaskResult, error) {
	host := hs.host.Name
	directive, _ := a.Args["_raw_params"].(string)
	directive = strings.TrimSpace(directive)
	res := &TaskResult{Host: host, Task: a.String(), Module: "meta", Status: TaskOK, Result: map[string]interface{}{"changed": false}}

	if directive != "flush_handlers" {
		v := r.resolve(hs, a.Vars, scope, actionRole(a, scope))
		conditions := append(append([]string(nil), scope.when...), a.When...)
		run, err := template.EvaluateCondition(r.engine.Evaluator, conditions, v)
		if err != nil {
			out := failedOutcome(err, nil)
			res.Status, res.Result, res.Err = TaskFailed, out.data, &TaskError{Host: host, Task: res.Task, Err: err}
			r.report(hs, a, res, kindTask)
			return res, nil
		}
		if !run {
			res.Status, res.Result = TaskSkipped, skippedData()
			return res, nil
		}
	}

	switch directive {
	case "flush_handlers":
		return r.flushHandlers(ctx, hs)
	case "end_host":
		common.LogInfo("Ending play for host", map[string]interface{}{"host": host})
		hs.done = true
	case "end_play":
		common.LogInfo("Ending play", map[string]interface{}{"host": host})
		r.endPlay.Store(true)
		hs.done = true
	case "noop":
	case "clear_facts":
		if err := r.engine.Facts.Set(host, map[string]interface{}{}); err != nil {
			return nil, fmt.Errorf("failed to clear facts of %s: %w", host, err)
		}
	default:
		err := fmt.Errorf("invalid meta action requested: %s", directive)
		res.Status = TaskFailed
		res.Result = failedOutcome(err, nil).data
		res.Err = &TaskError{Host: host, Task: res.Task, Err: err}
		r.report(hs, a, res, kindTask)
	}
	return res, nil
}

// flushHandlers runs the handlers queued for host, including handlers they
// notify in turn. A failing handler fails the flush step.
func (r *playRun) flushHandlers(ctx context.Context, hs *hostState) (*TaskResult, error) {
	host := hs.host.Name
	res := &TaskResult{Host: host, Task: "flush_handlers", Module: "meta", Status: TaskOK, Result: map[string]interface{}{"changed": false}}
	for round := 0; round < maxHandlerRounds; round++ {
		pending := r.queue.Drain(host)
		if len(pending) == 0 {
			return res, nil
		}
		for _, h := range pending {
			hres, err := r.runAction(ctx, hs, h, taskScope{role: h.Role}, kindHandler)
			if err != nil {
				return nil, err
			}
			r.queue.MarkExecuted(host, h)
			if hres.Status == TaskUnreachable || (hres.Status == TaskFailed && !hres.Ignored) {
				return hres, nil
			}
		}
	}
	common.LogWarn("Handlers are still notifying each other, stopping flush", map[string]interface{}{
		"host":   host,
		"rounds": maxHandlerRounds,
	})
	return res, nil
}

// runInclude loads an include for the host and pushes its tasks onto the cursor.
func (r *playRun) runInclude(ctx context.Context, hs *hostState, inc *playbook.Include, scope taskScope) (*TaskResult, error) {
	host := hs.host.Name
	res := &TaskResult{Host: host, Task: inc.String(), Module: "include", Status: TaskOK}
	v := r.resolve(hs, inc.Vars, scope, scope.role)

	fail := func(err error) (*TaskResult, error) {
		out := failedOutcome(err, nil)
		res.Status, res.Result = TaskFailed, out.data
		if inc.IgnoreErrors || scope.ignoreErrors {
			res.Ignored = true
			res.Err = &IgnoredTaskError{Host: host, Task: res.Task, Err: err}
		} else {
			res.Err = &TaskError{Host: host, Task: res.Task, Err: err}
		}
		r.report(hs, nil, res, kindTask)
		return res, nil
	}

	conditions := append(append([]string(nil), scope.when...), inc.When...)
	run, err := template.EvaluateCondition(r.engine.Evaluator, conditions, v)
	if err != nil {
		return fail(err)
	}
	if !run {
		res.Status, res.Result = TaskSkipped, skippedData()
		r.engine.recap.countTask(host, TaskSkipped)
		r.stats.countTask(host, TaskSkipped)
		r.report(hs, nil, res, kindTask)
		return res, nil
	}

	target := inc.Path
	if inc.RoleName != "" {
		target = inc.RoleName
	}
	rendered, err := r.engine.Evaluator.Template(target, v)
	if err != nil {
		return fail(err)
	}
	tags := append(append([]string(nil), scope.tags...), inc.Tags...)
	nodes, err := r.engine.Builder.LoadInclude(inc, rendered, tags)
	if err != nil {
		return fail(fmt.Errorf("failed to load %s: %w", rendered, err))
	}

	hs.cursor.push(includeFrame(inc, nodes))
	r.engine.Output.Task(kindTask, res.Task)
	r.engine.Output.Included(host, rendered)
	common.LogDebug("Included tasks", map[string]interface{}{"host": host, "target": rendered, "nodes": len(nodes)})
	return res, nil
}
