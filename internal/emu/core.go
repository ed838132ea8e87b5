// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Netplay License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package emu define o contrato do core de simulação consumido pela
// sessão de netplay e um core determinístico de demonstração.
package emu

import (
	"errors"
	"sync"
)

// Erros do core.
var (
	ErrSerializeFailed   = errors.New("emu: core refused to serialize")
	ErrUnserializeFailed = errors.New("emu: core refused to unserialize")
	ErrNoSerialization   = errors.New("emu: core never reported a state size")
)

// Core é o contrato mínimo que a sessão consome. Sequências idênticas
// de input devem produzir estado idêntico em todos os peers.
type Core interface {
	// SetInput entrega o input resolvido de um jogador antes de Run.
	SetInput(player int, words []uint32)

	// Run avança a simulação um frame.
	Run()

	// SerializeSize retorna o tamanho do snapshot em bytes, ou 0 se o
	// core ainda não sabe (inicialização "quirky").
	SerializeSize() int

	// Serialize grava o snapshot em buf (len(buf) == SerializeSize).
	Serialize(buf []byte) error

	// Unserialize restaura o snapshot a partir de buf.
	Unserialize(buf []byte) error
}

// warmupFrames é o máximo de frames rodados para arrancar um tamanho
// de serialização de um core com inicialização preguiçosa.
const warmupFrames = 60

// WaitAndInitSerialization roda o core até ele reportar um tamanho de
// snapshot, sob o interlock de autosave quando fornecido. Retorna o
// tamanho ou ErrNoSerialization; nesse caso a sessão degrada para o
// quirk NO_SAVESTATES (sem rollback).
func WaitAndInitSerialization(core Core, runLock *sync.Mutex) (int, error) {
	if size := core.SerializeSize(); size > 0 {
		return size, nil
	}
	for i := 0; i < warmupFrames; i++ {
		if runLock != nil {
			runLock.Lock()
		}
		core.Run()
		if runLock != nil {
			runLock.Unlock()
		}
		if size := core.SerializeSize(); size > 0 {
			return size, nil
		}
	}
	return 0, ErrNoSerialization
}
