// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package connector implements the core of a QQ-Telegram bridge.
//
// A federation of QQ accounts shares one Telegram bot. Each account is an
// [Instance] with an owner, a mode and a [Registry] of forward pairs, each
// pair linking one QQ group or private chat with one Telegram chat.
//
// # Core Types
//
// [Bridge] owns the instances, the Telegram client and the database. It runs
// one event loop per QQ account plus one for Telegram updates, and schedules
// the periodic refresh of sender attribution.
//
// [Instance] translates and forwards messages in both directions and keeps
// the correlation records that make replies, recalls and /rm work.
//
// [RecallQueue] spaces out QQ recalls caused by Telegram deletions.
//
// # Echo Prevention
//
// Every QQ message the bridge sends carries a marker element and is
// remembered in a process-wide cache; both are checked before forwarding.
// On Telegram the bot's own messages, service messages and, when the
// no_forward_other_bot flag is set, other bots are ignored.
//
// # Sender Attribution
//
// In personal mode the owner's Telegram messages are sent as the owner's QQ
// account without a name header. In group pairs, federation owners whose
// own QQ account is a member of the group are attributed to that account;
// everyone else is forwarded through the pair's instance with a header.
//
// # Sub-packages
//
//   - qqfmt renders QQ element chains as Telegram HTML.
//   - tgfmt converts Telegram text and entities to QQ element chains.
package connector
