/*
Package pgsys manages the build configuration of generated bindings that
target several major versions of a database engine.

A bindings artifact declares one feature flag per supported engine major
version (pg10 through pg14 by default). Every build selects exactly one of
them; the flag decides which version's interface is generated and compiled.

# Architecture pipeline (for developers)

Each element in the pipeline has distinct sub-packages that do a specific part. These are then "glued" together by [NewPlan] and [Plan.Build].
 1. [manifest]: Parse 'pgsys.toml', merge its imports and check the schema and invariants
 2. [feature]: Resolve the requested features to a feature set with exactly one target version
 3. [registry] and [resolver]: Fetch dependency manifests and pin one version of each, split into runtime and build-time phases
 4. [emit]: Write the build-tag gated files exposing the target version and features to Go code
 5. [gen]: Run the external generator over every selected unit
*/
package pgsys
