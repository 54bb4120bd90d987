/*
Package template expands placeholders in prompts and configuration values.

# Placeholder Styles

  - {name}: prompt style, used by Prompt templates sent to the model
  - ${name}: env style, used when configuration files reference
    environment variables

In prompt style a doubled brace is a literal brace:

	template.Expand(`Reply as {{"intent": "..."}} for: {message}`,
	    map[string]any{"message": "show my cart"})
	// Reply as {"intent": "..."} for: show my cart

# Missing Variables

The package-level Expand and a default Expander keep unknown placeholders
as they are. WithMissingAction(MissingEmpty) drops them and
WithMissingAction(MissingError) reports them as an *UndefinedVariableError.
Prompt.Render always uses MissingError so a prompt never reaches the model
with a hole in it.

# Thread Safety

Expander and Prompt values are safe for concurrent use.
*/
package template
