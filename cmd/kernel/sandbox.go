package main

import (
	"slug/internal/capdata"
	"slug/internal/config"
	"slug/internal/id"
	"slug/internal/platform"
	"slug/internal/platform/localsandbox"
	"slug/internal/vsyscall"
)

// echoLogic is the bundled reference localsandbox.Logic: it answers every
// message by resolving the result promise (if any) with the argument body
// echoed back. It exists so kernel run/send have something real to deliver
// to without a WASM sandbox, which spec.md §1 places out of scope.
type echoLogic struct{}

func newEchoLogic(config.VatConfig) (localsandbox.Logic, error) {
	return echoLogic{}, nil
}

func (echoLogic) HandleMessage(target id.ERef, msg capdata.EMessage) (platform.CrankResult, error) {
	if msg.Result == nil {
		return platform.CrankResult{}, nil
	}
	return platform.CrankResult{
		Syscalls: []vsyscall.Syscall{{
			Kind: vsyscall.Resolve,
			Resolutions: []vsyscall.Resolution{{
				Promise: *msg.Result,
				Value:   capdata.ECapData{Body: "echo:" + msg.MethArgs.Body},
			}},
		}},
	}, nil
}

func (echoLogic) HandleNotify(resolutions []platform.Resolution) (platform.CrankResult, error) {
	return platform.CrankResult{}, nil
}

func (echoLogic) HandleDropExports(refs []id.ERef) (platform.CrankResult, error) {
	return platform.CrankResult{}, nil
}

func (echoLogic) HandleRetireExports(refs []id.ERef) (platform.CrankResult, error) {
	return platform.CrankResult{}, nil
}

func (echoLogic) HandleRetireImports(refs []id.ERef) (platform.CrankResult, error) {
	return platform.CrankResult{}, nil
}

func (echoLogic) HandleBringOutYourDead() (platform.CrankResult, error) {
	return platform.CrankResult{}, nil
}

// registerBuiltinBundles wires the bundle names a cluster.toml's
// vats.*.bundle_name may reference to their localsandbox.LogicFactory.
func registerBuiltinBundles(services *localsandbox.Services) {
	services.RegisterBundle("echo", newEchoLogic)
}
