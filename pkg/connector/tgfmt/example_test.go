// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package tgfmt_test

import (
	"fmt"

	"github.com/mymmrac/telego"

	"github.com/aiku/q2tg/pkg/connector/tgfmt"
)

func ExamplePlainText() {
	text := tgfmt.PlainText("read the guide", []telego.MessageEntity{
		{Type: "bold", Offset: 0, Length: 4},
		{Type: "text_link", Offset: 9, Length: 5, URL: "https://example.com/guide"},
	})
	fmt.Println(text)
	// Output: read the guide (https://example.com/guide)
}
