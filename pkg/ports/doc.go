/*
Package ports defines the driven ports (interfaces) for the eddy engine.

These interfaces decouple the core from external implementations, allowing
the engine to work with different cache backends and execution engines.

# Key Interfaces

  - ElementCache: append-only, fingerprint-keyed storage of element streams
    (e.g., in-memory or Redis).
  - Engine: the execution collaborator that runs a pipeline fragment and
    returns a Result handle.
*/
package ports
