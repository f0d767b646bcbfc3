/*
Package domain contains the core domain models for the eddy engine.

It defines the pipeline graph structure the engine explores, the element
streams it materializes, and the transient fragment view it derives from a
graph. This package is kept pure and free of external dependencies like I/O
or persistence, following Hexagonal Architecture principles.

# Key Entities

  - Pipeline / Node / Transform: the directed acyclic graph of data-producing
    nodes the user explores. The engine only reads this structure.
  - Element: one timestamped value flowing through a node.
  - Fragment: the minimal executable sub-DAG needed to produce a set of
    target nodes, with already-computed nodes replaced by cache reads.
*/
package domain
