// Package policy gates plugin admission with Rego policies evaluated
// through OPA. Built-in policies enforce plugin naming, rule budgets, and
// capability restrictions; operators add their own as .rego or .json files.
// The Engine implements engine.AdmissionPolicy, so a denied plugin is
// dropped during pipeline composition rather than failing the attach.
package policy
