package neovim

// Lua snippets executed through nvim_exec_lua. Arguments arrive as `...`.

// installAutocmds forwards buffer and cursor changes to our RPC channel
const installAutocmds = `
local chan, method = ...
local group = vim.api.nvim_create_augroup('CompletionTesterEvents', { clear = true })
local function forward(kind)
  return function(ev)
    local win = vim.api.nvim_get_current_win()
    local cursor = vim.api.nvim_win_get_cursor(win)
    vim.rpcnotify(chan, method, kind, ev.buf, win,
      vim.api.nvim_buf_get_changedtick(ev.buf), cursor[1], cursor[2])
  end
end
vim.api.nvim_create_autocmd({ 'TextChanged', 'TextChangedI', 'TextChangedP' },
  { group = group, callback = forward('text') })
vim.api.nvim_create_autocmd({ 'CursorMoved', 'CursorMovedI' },
  { group = group, callback = forward('cursor') })
`

// uninstallAutocmds removes the event group, tolerating a missing one
const uninstallAutocmds = `
pcall(vim.api.nvim_del_augroup_by_name, 'CompletionTesterEvents')
`

// installUserCommands defines :CompletionTesterStart and :CompletionTesterStop
const installUserCommands = `
local chan, start_method, stop_method = ...
vim.api.nvim_create_user_command('CompletionTesterStart', function()
  vim.rpcnotify(chan, start_method)
end, { desc = 'Start the completion soak tester' })
vim.api.nvim_create_user_command('CompletionTesterStop', function()
  vim.rpcnotify(chan, stop_method)
end, { desc = 'Stop the completion soak tester' })
`

// setFiletype sets the filetype of a buffer
const setFiletype = `
local buf, ft = ...
vim.bo[buf].filetype = ft
`

// enterInsert puts the current window in Insert mode without moving the cursor
const enterInsert = `
if vim.api.nvim_get_mode().mode:sub(1, 1) ~= 'i' then
  vim.cmd('startinsert')
end
`

// hideWindowBuffer leaves Insert mode and shows another buffer in win so buf
// is no longer visible
const hideWindowBuffer = `
local win, buf = ...
if not vim.api.nvim_win_is_valid(win) or vim.api.nvim_win_get_buf(win) ~= buf then
  return
end
if vim.api.nvim_get_current_win() == win then
  vim.cmd('stopinsert')
end
vim.api.nvim_win_call(win, function()
  local alt = vim.fn.bufnr('#')
  if alt > 0 and alt ~= buf and vim.api.nvim_buf_is_loaded(alt) then
    vim.api.nvim_win_set_buf(win, alt)
  else
    vim.cmd('enew')
  end
end)
`

// requirePlugin reports whether a Lua module can be loaded
const requirePlugin = `
local name = ...
return (pcall(require, name))
`

// notify shows a one-line message
const notify = `
local msg, level = ...
vim.notify(msg, level)
`
