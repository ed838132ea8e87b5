// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Netplay License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package input

import "testing"

func TestPredict_CopiesLastReal(t *testing.T) {
	last := Sample{0x0110, 0x7FFF0000, 0x00008000}
	got := Predict(last)
	if got != last {
		t.Fatalf("expected %v, got %v", last, got)
	}
}

func TestResim(t *testing.T) {
	tests := []struct {
		name    string
		prevSim Sample
		real    Sample
		want    Sample
	}{
		{
			name:    "directional bits follow real, buttons preserved",
			prevSim: Sample{0x0100, 0, 0}, // botão A simulado
			real:    Sample{0x0010, 0, 0}, // up real
			want:    Sample{0x0110, 0, 0},
		},
		{
			name:    "released direction clears",
			prevSim: Sample{0x00F0, 0, 0},
			real:    Sample{0x0000, 0, 0},
			want:    Sample{0x0000, 0, 0},
		},
		{
			name:    "real button press does not retrigger",
			prevSim: Sample{0x0000, 0, 0},
			real:    Sample{0x0100, 0, 0}, // botão A real não entra na resimulação
			want:    Sample{0x0000, 0, 0},
		},
		{
			name:    "analog words follow real",
			prevSim: Sample{0x0100, 0x11111111, 0x22222222},
			real:    Sample{0x0020, 0xAAAAAAAA, 0xBBBBBBBB},
			want:    Sample{0x0120, 0xAAAAAAAA, 0xBBBBBBBB},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resim(tt.prevSim, tt.real, DefaultDirMask)
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}
