package prompt

// Built-in templates used when no template directory is configured or a
// template file is missing.
var defaultTemplates = map[string]string{
	TemplateSystem: `You are a browser automation planner. You control a real browser on behalf of a user who wants to monitor or extract information from web pages.

Available step types: navigate, click, type, select, hover, press, wait, waitForSelector, extract, evaluate, scroll, screenshot, reload, goBack, goForward.

Rules:
- Prefer stable selectors (ids, data attributes) over positional ones.
- Never invent selectors for elements you have no evidence of.
- Keep plans short; every step costs real time in a browser.
- Respond only with the JSON shape you are asked for.`,

	TemplateUserPlan: `Task: {{instruction}}
Target URL: {{url}}
{{#if pageText}}
Current page text (truncated):
{{pageText}}
{{/if}}
Produce an execution plan as JSON:
{
  "name": "short plan name",
  "description": "what the plan accomplishes",
  "url": "{{url}}",
  "steps": [
    {"id": "step-1", "type": "navigate", "description": "...", "url": "..."},
    {"id": "step-2", "type": "waitForSelector", "description": "...", "selector": "...", "waitTime": 10000},
    {"id": "step-3", "type": "extract", "description": "...", "selector": "..."}
  ],
  "successCriteria": ["..."],
  "failureCriteria": ["..."],
  "confidence": 0.0,
  "reasoning": "why these steps"
}`,

	TemplateInteractiveStep: `Task: {{instruction}}
Current URL: {{url}}
Step {{stepNumber}} of {{maxSteps}}.
{{#if previousSteps}}
Previous steps:
{{previousSteps}}
{{else}}
This is the first step.
{{/if}}
{{#if dom}}
Current DOM (truncated):
{{dom}}
{{/if}}
{{#if pageError}}
Note: state capture failed: {{pageError}}
{{/if}}
Decide the single next browser action and evaluate progress toward completing the task. Respond as JSON:
{
  "action": {"type": "...", "selector": "...", "value": "...", "url": "...", "waitTime": 0, "description": "..."},
  "progressEvaluation": {"score": 0.0, "isComplete": false, "reasoning": "..."},
  "extractedData": {}
}
score is in [0,1]. Set isComplete true only when the task is fully done and any requested data has been extracted.`,
}
