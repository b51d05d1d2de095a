// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package kernel

import (
	"fmt"

	"laritos.dev/laritos/pkg/log"
)

type initArgs struct {
	main ProcessMain
	arg  any
}

// initMain is the body of the init process. It spawns idle and main, then
// reaps zombie children, including orphans handed down to it, until main
// is gone and only daemons remain. It returns main's exit status, which
// halts the kernel.
func (k *Kernel) initMain(p *Process, arg any) int {
	a := arg.(initArgs)

	idle, err := k.spawn(spawnArgs{
		name:      "idle",
		main:      k.idleMain,
		stackSize: DefaultStackSize,
		priority:  k.opts.LowestPriority,
		kernel:    true,
		daemon:    true,
	})
	if err != nil {
		panic(fmt.Sprintf("could not create the idle process: %v", err))
	}
	k.idle = idle

	m, err := k.spawn(spawnArgs{
		name:      "main",
		main:      a.main,
		arg:       a.arg,
		stackSize: DefaultStackSize,
		priority:  k.InitPriority(),
		kernel:    true,
	})
	if err != nil {
		log.Warningf("Could not create the main process: %v", err)
		k.reapDaemons(p)
		return ExitStatusKilled
	}
	mainPID := m.pid

	status := ExitStatusKilled
	mainReaped := false
	st := k.procData.Acquire()
	for {
		var zombies []*Process
		live := false
		for c := range p.children.All() {
			switch {
			case c.status == StatusZombie:
				zombies = append(zombies, c)
			case !c.daemon:
				live = true
			}
		}
		if len(zombies) > 0 {
			k.procData.Release(st)
			for _, z := range zombies {
				isMain := !mainReaped && z.pid == mainPID
				s := k.reap(p, z)
				if isMain {
					status = s
					mainReaped = true
				}
			}
			st = k.procData.Acquire()
			continue
		}
		if mainReaped && !live {
			break
		}
		p.childExit.Wait(&k.procData, &st)
	}
	k.procData.Release(st)

	log.Infof("No processes left, shutting down")
	k.reapDaemons(p)
	return status
}

// reapDaemons kills and reaps the remaining children of init.
func (k *Kernel) reapDaemons(p *Process) {
	st := k.procData.Acquire()
	for c := range p.children.All() {
		k.killLocked(c, ExitStatusKilled)
	}
	k.procData.Release(st)
	k.UnregisterZombieChildren(p)
}

// idleMain runs when nothing else can. It waits for interrupts forever.
func (k *Kernel) idleMain(p *Process, arg any) int {
	for {
		k.cpu.waitForInterrupt()
	}
}
