package mcpserver

// SyntaxGuide describes the Markdown dialect the renderer understands.
const SyntaxGuide = `# inkwell Markdown syntax

Notes are Markdown files with optional YAML frontmatter. The renderer turns
them into inline-styled HTML for the WeChat editor, a caption bundle for
RedBook, or a Halo post.

## Frontmatter

` + "```" + `yaml
---
title: Article title          # also 标题
author: Name                  # also 作者
digest: One-line summary      # also 摘要
source url: https://...       # also 原文链接
cover: attachments/cover.png  # also 封面; required before sending to WeChat
comment: true                 # open comments (是/否 accepted)
fans only: false              # only followers may comment
xhs_cover: cover.png          # RedBook cover, hoisted to image 1
tags: [go, notes]             # Halo tags
categories: [tech]            # Halo categories
---
` + "```" + `

After publishing to Halo the note gains a ` + "`" + `halo:` + "`" + ` block
(site, name, publish, permalink). Do not edit it by hand.

## Blocks

- Headings, lists, task lists, tables, footnotes, block quotes.
- Fenced code with a language gets line-by-line highlighting.
- ` + "`" + `$inline$` + "`" + ` and ` + "`" + `$$display$$` + "`" + ` math render to SVG.
- Callouts: ` + "`" + `> [!note] Title` + "`" + ` followed by quoted lines.
- Admonitions: a fence named ` + "`" + `ad-<type>` + "`" + ` (ad-tip, ad-warning, ...).
- Diagrams: ` + "`" + `mermaid` + "`" + `, ` + "`" + `plantuml` + "`" + ` and other Kroki fences become images.
- Charts: a ` + "`" + `chart` + "`" + ` fence is captured as an image.
- Profile card: an ` + "`" + `mpcard` + "`" + ` fence with ` + "`" + `key: value` + "`" + ` lines
  (nickname, headimg, signature, id) embeds an Official Account card.

## Inline

- ` + "`" + `[[note]]` + "`" + ` and ` + "`" + `[[note|alias]]` + "`" + ` render as plain text in WeChat and as
  links to the target's Halo permalink when it has one.
- ` + "`" + `![[image.png|alt]]` + "`" + ` embeds an image from the vault; ` + "`" + `![alt](path "caption")` + "`" + `
  gets a caption row.
- External links are collected into a numbered footer.
- ` + "`ris:name`" + ` and ` + "`fas:name`" + ` insert icons.
- ` + "`wwcap:text`" + ` inserts an image caption line.

## Template markers

Lines consisting of ` + "`" + `%%hh%%` + "`" + `, ` + "`" + `%%/hh%%` + "`" + `, ` + "`" + `%%tt%%` + "`" + ` or
` + "`" + `%%/tt%%` + "`" + ` (one trailing percent also accepted) are removed before rendering.
`
