// Package compiler drives the jit over bytecode modules.
//
// Process of compilation
//
//	Bytecode Text (hasm) ->
//		bytecode.Parse ->
//	Code Units ->
//		interp (with profile) ->
//	Type Feedback ->
//		front.Preload ->
//	Preloaded Function ->
//		front.Build ->
//	High-level IR (hir) ->
//		opt.Run ->
//	Optimized SSA hir ->
//		back.Generate ->
//	Code ->
//		jit.CodeTable.Install ->
//	Compiled Entry
package compiler
