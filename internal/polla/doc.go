// Package polla defines the draw and jackpot types shared by the loader,
// consensus, decision and state packages, plus the collaborator interfaces
// the run orchestrator is wired with.
package polla
