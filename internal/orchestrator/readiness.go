package orchestrator

import "github.com/shaiso/nvent/internal/domain"

// tokenPrefixStep mirrors internal/engine's "step:" form — the only token
// form step-ready evaluation checks against completedSteps at runtime; every
// other form (queue:/worker:/bare) is checked against emittedEvents just
// like its literal text, per the dispatch contract.
const tokenPrefixStep = "step:"

// StepReady evaluates whether step is runnable inside run: every token in
// step.Subscribes must either be present in run.EmittedEvents, or (for the
// step:<name> form only) name a step present in run's completed set.
//
// This is the runtime dispatch check and is deliberately narrower than
// internal/engine's DAG-construction token resolution: queue:/worker:/bare
// forms are matched here only against emittedEvents literal text, never
// against the resolved step set the analyzer computed for dependsOn.
func StepReady(step *domain.StepMeta, run *domain.FlowRun) bool {
	for _, token := range step.Subscribes {
		if run.EmittedEvents[token] {
			continue
		}
		if name, ok := cutStepPrefix(token); ok {
			if run.StepStatuses[name] == domain.StepRunStatusCompleted {
				continue
			}
		}
		return false
	}
	return true
}

func cutStepPrefix(token string) (string, bool) {
	if len(token) <= len(tokenPrefixStep) || token[:len(tokenPrefixStep)] != tokenPrefixStep {
		return "", false
	}
	return token[len(tokenPrefixStep):], true
}
