// Package lua defines module classes written in Lua.
//
// A Definer registered with an isolation.Boundary turns ".lua" entries into
// classes. Each boundary gets its own sandboxed State, so two modules that
// ship a class with the same name never see each other's tables.
//
// # Classes
//
// A class entry is a chunk that returns a table. Functions named new or
// new_<suffix> are constructors; their declared parameter count is their
// arity and every parameter accepts any value:
//
//	local Job = {}
//	Job.__index = Job
//	function Job.new(ctx) return setmetatable({ctx = ctx}, Job) end
//	function Job:run() self.ctx.log("job ran") end
//	return Job
//
// Constructors produce an *Object, or a *Runnable when the object has a run
// method. A Runnable satisfies host.WorkUnit.
//
// # Sandbox
//
// Only the base, table, string, math and coroutine libraries are opened.
// dofile, load and friends are removed, print goes to the boundary logger,
// and require resolves names through the boundary: forbidden namespaces
// fail, restricted ones come from the host (see HostModule), and everything
// else is another class of the same module.
//
// # Host context
//
// A host.Context passed to a constructor arrives as a table with a name
// field and get and log functions.
package lua
