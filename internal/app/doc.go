// Package app composes the ServiMap marketplace.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring, and lifecycle
//	├── domain/             # Domain models (pure data structures)
//	├── storage/            # Store interfaces plus memory and postgres backends
//	├── services/           # Business logic, one package per module
//	├── httpapi/            # Public JSON API and websocket stream
//	├── ops/                # Health, readiness, metrics and host status
//	├── runtime/            # Process bootstrap and graceful shutdown
//	├── system/             # Lifecycle manager for background components
//	└── metrics/            # Prometheus collectors
//
// # Dependency Direction
//
//	cmd/servimap/
//	      │
//	      ▼
//	internal/app/runtime ──► internal/app (composition)
//	                               │
//	                               ├──► internal/app/services ──► storage, domain
//	                               │
//	                               └──► internal/app/httpapi ──► services
//
// Services never import httpapi, and domain packages import nothing above
// them. Every lifecycle batch (a request change, its ledger entries and its
// notifications) commits through storage.Transactor; realtime delivery and
// gateway calls happen only after the commit.
package app
