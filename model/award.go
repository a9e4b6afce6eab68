/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package model

import "time"

// AwardBadge describes the badge handed out by an award.
type AwardBadge struct {
	Name       string `json:"name"`
	TotalXp    int64  `json:"total_xp"`
	XpPerBadge int64  `json:"xp_per_badge"`
}

type Award struct {
	AwardID   string     `json:"id"`
	Space     string     `json:"space"`
	Name      string     `json:"name"`
	Badge     AwardBadge `json:"badge"`
	Capacity  int64      `json:"capacity"`
	Issued    int64      `json:"issued"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Completed reports whether every badge of the award has been issued.
func (a *Award) Completed() bool {
	return a.Issued >= a.Capacity
}

// Issue counts one more badge. It refuses once the award is completed.
func (a *Award) Issue(now time.Time) error {
	if a.Completed() {
		return ErrAwardCompleted
	}
	a.Issued++
	a.UpdatedAt = now
	return nil
}

// Badge is one issued badge of an award.
type Badge struct {
	BadgeID   string    `json:"id"`
	Award     string    `json:"award"`
	Space     string    `json:"space"`
	Member    string    `json:"member"`
	Xp        int64     `json:"xp"`
	Index     int64     `json:"index"`
	CreatedAt time.Time `json:"created_at"`
}
